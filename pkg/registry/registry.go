// Package registry implements the Reservation Registry (spec §4.B): the
// store of exclusive (customer_id ∪ customer_name) → (staff, product)
// claims, with states, grace periods, and permanence.
package registry

import (
	"sync"
	"time"

	"github.com/cuemby/ldengine/pkg/apperr"
	"github.com/cuemby/ldengine/pkg/events"
	"github.com/cuemby/ldengine/pkg/log"
	"github.com/cuemby/ldengine/pkg/metrics"
	"github.com/cuemby/ldengine/pkg/normalize"
	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/google/uuid"
)

// ConflictResolver is the mediator the registry calls into whenever an
// approved reservation starts or stops being active (spec §4.D, §9
// "neither side calls the other directly" — the registry only ever calls
// forward into the resolver, never the reverse).
type ConflictResolver interface {
	OnAdd(reservation *types.Reservation, keys map[string]struct{}) error
	OnRemove(reservation *types.Reservation, keys map[string]struct{}) error
}

// Registry is the Reservation Registry.
type Registry struct {
	store    storage.Store
	resolver ConflictResolver
	broker   *events.Broker

	mu sync.Mutex
	// index maps "productID|normalizedKey" to the set of approved
	// reservation ids currently holding that key, so DUPLICATE detection
	// and key lookups are O(1) instead of a bucket scan.
	index map[string]map[string]struct{}
}

// New builds a Registry and rebuilds its in-memory index from the store's
// currently-approved reservations.
func New(store storage.Store, resolver ConflictResolver, broker *events.Broker) (*Registry, error) {
	r := &Registry{
		store:    store,
		resolver: resolver,
		broker:   broker,
		index:    make(map[string]map[string]struct{}),
	}

	approved, err := store.ListReservationsByStatus(types.ReservationApproved)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list approved reservations", err)
	}
	for _, res := range approved {
		r.indexAdd(res)
	}
	return r, nil
}

func compositeKey(productID, key string) string {
	return productID + "|" + key
}

// indexAdd must be called with r.mu held.
func (r *Registry) indexAdd(res *types.Reservation) {
	keys := normalize.ReservationKeys(res.CustomerID, res.CustomerName)
	for key := range keys {
		ck := compositeKey(res.ProductID, key)
		if r.index[ck] == nil {
			r.index[ck] = make(map[string]struct{})
		}
		r.index[ck][res.ID] = struct{}{}
	}
}

// indexRemove must be called with r.mu held.
func (r *Registry) indexRemove(res *types.Reservation) {
	keys := normalize.ReservationKeys(res.CustomerID, res.CustomerName)
	for key := range keys {
		ck := compositeKey(res.ProductID, key)
		delete(r.index[ck], res.ID)
		if len(r.index[ck]) == 0 {
			delete(r.index, ck)
		}
	}
}

// hasApprovedCollision reports whether any approved reservation other than
// excludeID already holds one of keys under productID.
func (r *Registry) hasApprovedCollision(productID string, keys map[string]struct{}, excludeID string) bool {
	for key := range keys {
		ck := compositeKey(productID, key)
		for id := range r.index[ck] {
			if id != excludeID {
				return true
			}
		}
	}
	return false
}

// Create handles both staff and admin reservation requests. Admin callers
// (isAdmin=true) produce an immediately-approved reservation; staff callers
// produce a pending one awaiting approval.
func (r *Registry) Create(requestedBy, customerID, customerName, productID, staffID, phone string, isAdmin bool) (*types.Reservation, error) {
	keys := normalize.ReservationKeys(customerID, customerName)
	if len(keys) == 0 {
		return nil, apperr.New(apperr.Validation, "MISSING_IDENTIFIER")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasApprovedCollision(productID, keys, "") {
		return nil, apperr.New(apperr.Conflict, "DUPLICATE")
	}

	status := types.ReservationPending
	if isAdmin {
		status = types.ReservationApproved
	}

	res := &types.Reservation{
		ID:           uuid.New().String(),
		CustomerID:   customerID,
		CustomerName: customerName,
		ProductID:    productID,
		StaffID:      staffID,
		RequestedBy:  requestedBy,
		Phone:        phone,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
	if status == types.ReservationApproved {
		now := time.Now().UTC()
		res.ApprovedAt = &now
	}

	if err := r.store.CreateReservation(res); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to persist reservation", err)
	}

	if status == types.ReservationApproved {
		r.indexAdd(res)
		if err := r.activate(res, keys); err != nil {
			return res, err
		}
	}

	return res, nil
}

// Approve transitions a pending reservation to approved and triggers the
// Conflict Resolver's on-add entry point.
func (r *Registry) Approve(id string) (*types.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.store.GetReservation(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "reservation not found", err)
	}
	if res.Status != types.ReservationPending {
		return nil, apperr.New(apperr.Conflict, "reservation is not pending")
	}

	keys := normalize.ReservationKeys(res.CustomerID, res.CustomerName)
	if r.hasApprovedCollision(res.ProductID, keys, res.ID) {
		return nil, apperr.New(apperr.Conflict, "DUPLICATE")
	}

	now := time.Now().UTC()
	res.Status = types.ReservationApproved
	res.ApprovedAt = &now

	if err := r.store.UpdateReservation(res); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to persist reservation", err)
	}

	r.indexAdd(res)
	if err := r.activate(res, keys); err != nil {
		return res, err
	}
	return res, nil
}

// activate runs the resolver's on-add entry point and emits
// ReservationActivated. Must be called with r.mu held.
func (r *Registry) activate(res *types.Reservation, keys map[string]struct{}) error {
	timer := metrics.NewTimer()
	err := r.resolver.OnAdd(res, keys)
	timer.ObserveDurationVec(metrics.ResolverScanDuration, "on-add")
	if err != nil {
		log.Logger.Error().Err(err).Str("reservation_id", res.ID).Msg("resolver on-add failed")
		return apperr.Wrap(apperr.Internal, "conflict resolver on-add failed", err)
	}
	metrics.ReservationsActivatedTotal.Inc()
	r.publish("reservation.activated", res)
	return nil
}

// Delete removes a reservation. If it was approved, it triggers the
// Conflict Resolver's on-remove entry point before returning.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.store.GetReservation(id)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, "reservation not found", err)
	}

	wasApproved := res.Status == types.ReservationApproved
	keys := normalize.ReservationKeys(res.CustomerID, res.CustomerName)

	if err := r.store.DeleteReservation(id); err != nil {
		return apperr.Wrap(apperr.Dependency, "failed to delete reservation", err)
	}

	if wasApproved {
		r.indexRemove(res)
		return r.deactivate(res, keys)
	}
	return nil
}

// Expire transitions an approved, non-permanent reservation to expired and
// triggers the Conflict Resolver's on-remove entry point. A permanent
// reservation is refused with a Validation error and stays approved.
func (r *Registry) Expire(id string) (*types.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.store.GetReservation(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "reservation not found", err)
	}
	if res.Status != types.ReservationApproved {
		return res, nil
	}
	if res.IsPermanent {
		return res, apperr.New(apperr.Validation, "permanent reservations never expire")
	}

	keys := normalize.ReservationKeys(res.CustomerID, res.CustomerName)
	res.Status = types.ReservationExpired
	if err := r.store.UpdateReservation(res); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to persist reservation", err)
	}

	r.indexRemove(res)
	metrics.ReservationsExpiredTotal.Inc()
	if err := r.deactivate(res, keys); err != nil {
		return res, err
	}
	return res, nil
}

// deactivate runs the resolver's on-remove entry point and emits
// ReservationDeactivated. Must be called with r.mu held.
func (r *Registry) deactivate(res *types.Reservation, keys map[string]struct{}) error {
	timer := metrics.NewTimer()
	err := r.resolver.OnRemove(res, keys)
	timer.ObserveDurationVec(metrics.ResolverScanDuration, "on-remove")
	if err != nil {
		log.Logger.Error().Err(err).Str("reservation_id", res.ID).Msg("resolver on-remove failed")
		return apperr.Wrap(apperr.Internal, "conflict resolver on-remove failed", err)
	}
	r.publish("reservation.deactivated", res)
	return nil
}

// TogglePermanent flips is_permanent on a reservation.
func (r *Registry) TogglePermanent(id string) (*types.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.store.GetReservation(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "reservation not found", err)
	}
	res.IsPermanent = !res.IsPermanent
	if err := r.store.UpdateReservation(res); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to persist reservation", err)
	}
	return res, nil
}

// ExpireCandidates returns approved, non-permanent reservations whose
// effective grace window (the reservation's grace_days_override, falling
// back to defaultGraceDays) has elapsed as of now.
func (r *Registry) ExpireCandidates(now time.Time, defaultGraceDays int) ([]*types.Reservation, error) {
	approved, err := r.store.ListReservationsByStatus(types.ReservationApproved)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list approved reservations", err)
	}

	var out []*types.Reservation
	for _, res := range approved {
		if res.IsPermanent || res.ApprovedAt == nil {
			continue
		}
		graceDays := defaultGraceDays
		if res.GraceDaysOverride != nil {
			graceDays = *res.GraceDaysOverride
		}
		deadline := res.ApprovedAt.Add(time.Duration(graceDays) * 24 * time.Hour)
		if now.After(deadline) {
			out = append(out, res)
		}
	}
	return out, nil
}

// Get returns a single reservation by id.
func (r *Registry) Get(id string) (*types.Reservation, error) {
	res, err := r.store.GetReservation(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "reservation not found", err)
	}
	return res, nil
}

// List returns all reservations.
func (r *Registry) List() ([]*types.Reservation, error) {
	out, err := r.store.ListReservations()
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list reservations", err)
	}
	return out, nil
}

func (r *Registry) publish(eventType string, res *types.Reservation) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&types.AuditEvent{
		ID:      uuid.New().String(),
		Type:    eventType,
		Actor:   res.RequestedBy,
		Subject: res.ID,
		Data: map[string]any{
			"customer_id":   res.CustomerID,
			"customer_name": res.CustomerName,
			"product_id":    res.ProductID,
			"staff_id":      res.StaffID,
		},
		Ts: time.Now().UTC(),
	})
}
