// Package resolver implements the Conflict Resolver (spec §4.D): the single
// authority reconciling record status against the currently-approved
// reservation set across all three record collections.
package resolver

import (
	"time"

	"github.com/cuemby/ldengine/pkg/apperr"
	"github.com/cuemby/ldengine/pkg/events"
	"github.com/cuemby/ldengine/pkg/metrics"
	"github.com/cuemby/ldengine/pkg/normalize"
	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Resolver reconciles Record status against the Reservation Registry's
// approved set. It implements registry.ConflictResolver without importing
// pkg/registry, so the two packages reference each other only through the
// interface the registry owns.
type Resolver struct {
	store  storage.Store
	broker *events.Broker
}

// New builds a Resolver over store, publishing audit events through broker.
func New(store storage.Store, broker *events.Broker) *Resolver {
	return &Resolver{store: store, broker: broker}
}

// OnAdd is the registry's on-add entry point (spec §4.D): it marks matching
// available records reserved, and invalidates any assigned record held by a
// different staff member that now matches the newly-approved reservation.
func (res *Resolver) OnAdd(reservation *types.Reservation, keys map[string]struct{}) error {
	for _, collection := range types.Collections() {
		records, err := res.store.ListRecords(collection)
		if err != nil {
			return apperr.Wrap(apperr.Dependency, "failed to list records during resolver on-add", err)
		}
		for _, rec := range records {
			if !normalize.MatchesRecord(rec, keys) {
				continue
			}
			switch rec.Status {
			case types.RecordAvailable:
				rec.Status = types.RecordReserved
				rec.ReservedBy = reservation.StaffID
				if err := res.store.UpdateRecord(collection, rec); err != nil {
					return apperr.Wrap(apperr.Dependency, "failed to reserve record", err)
				}
				metrics.ResolverMutationsTotal.WithLabelValues("on-add", "available->reserved").Inc()

			case types.RecordAssigned:
				if rec.AssignedTo == reservation.StaffID {
					continue
				}
				rec.Status = types.RecordInvalid
				rec.InvalidReason = types.InvalidReasonReservedByOther
				if err := res.store.UpdateRecord(collection, rec); err != nil {
					return apperr.Wrap(apperr.Dependency, "failed to invalidate record", err)
				}
				metrics.ResolverMutationsTotal.WithLabelValues("on-add", "assigned->invalid").Inc()
				res.publish("record.invalidated", rec.AssignedTo, rec.ID, map[string]any{
					"reason":     string(types.InvalidReasonReservedByOther),
					"collection": string(collection),
				})
			}
		}
	}
	return nil
}

// OnRemove is the registry's on-remove entry point (spec §4.D): it reverts
// reserved records back to available, but only for keys no other still-
// approved reservation covers.
func (res *Resolver) OnRemove(reservation *types.Reservation, keys map[string]struct{}) error {
	stillCovered, err := res.coveredKeys(reservation.ID)
	if err != nil {
		return err
	}

	freedKeys := make(map[string]struct{}, len(keys))
	for key := range keys {
		if _, covered := stillCovered[key]; !covered {
			freedKeys[key] = struct{}{}
		}
	}
	if len(freedKeys) == 0 {
		return nil
	}

	for _, collection := range types.Collections() {
		records, err := res.store.ListRecords(collection)
		if err != nil {
			return apperr.Wrap(apperr.Dependency, "failed to list records during resolver on-remove", err)
		}
		for _, rec := range records {
			if rec.Status != types.RecordReserved {
				continue
			}
			if !normalize.MatchesRecord(rec, freedKeys) {
				continue
			}
			rec.Status = types.RecordAvailable
			rec.ReservedBy = ""
			if err := res.store.UpdateRecord(collection, rec); err != nil {
				return apperr.Wrap(apperr.Dependency, "failed to release record", err)
			}
			metrics.ResolverMutationsTotal.WithLabelValues("on-remove", "reserved->available").Inc()
		}
	}
	return nil
}

// coveredKeys returns the union of reservation keys held by every approved
// reservation other than excludeID.
func (res *Resolver) coveredKeys(excludeID string) (map[string]struct{}, error) {
	approved, err := res.store.ListReservationsByStatus(types.ReservationApproved)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list approved reservations", err)
	}
	covered := make(map[string]struct{})
	for _, r := range approved {
		if r.ID == excludeID {
			continue
		}
		for key := range normalize.ReservationKeys(r.CustomerID, r.CustomerName) {
			covered[key] = struct{}{}
		}
	}
	return covered, nil
}

// FullResync reconstructs reserved/available record status from scratch
// across all three collections. It is idempotent: running it twice in a row
// with no intervening mutation produces zero further changes.
//
// Reads fan out concurrently across collections (errgroup); all resulting
// writes are then applied serially, since atomicity across collections is
// not guaranteed (spec §5) but the per-collection result must still reflect
// a single consistent snapshot of the approved reservation set.
func (res *Resolver) FullResync() (changed int, err error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ResolverScanDuration, "full-resync")

	approved, err := res.store.ListReservationsByStatus(types.ReservationApproved)
	if err != nil {
		return 0, apperr.Wrap(apperr.Dependency, "failed to list approved reservations", err)
	}

	keyOwners := make(map[string]string, len(approved)*2)
	for _, r := range approved {
		for key := range normalize.ReservationKeys(r.CustomerID, r.CustomerName) {
			if _, exists := keyOwners[key]; !exists {
				keyOwners[key] = r.StaffID
			}
		}
	}

	type collectionRecords struct {
		collection types.Collection
		records    []*types.Record
	}

	results := make([]collectionRecords, len(types.Collections()))
	var group errgroup.Group
	for i, collection := range types.Collections() {
		i, collection := i, collection
		group.Go(func() error {
			records, listErr := res.store.ListRecords(collection)
			if listErr != nil {
				return listErr
			}
			results[i] = collectionRecords{collection: collection, records: records}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, apperr.Wrap(apperr.Dependency, "failed to list records during full-resync", err)
	}

	for _, cr := range results {
		for _, rec := range cr.records {
			owner, reserved := matchOwner(rec, keyOwners)

			switch {
			case rec.Status == types.RecordAvailable && reserved:
				rec.Status = types.RecordReserved
				rec.ReservedBy = owner
				if err := res.store.UpdateRecord(cr.collection, rec); err != nil {
					return changed, apperr.Wrap(apperr.Dependency, "failed to reserve record during full-resync", err)
				}
				changed++

			case rec.Status == types.RecordReserved && !reserved:
				rec.Status = types.RecordAvailable
				rec.ReservedBy = ""
				if err := res.store.UpdateRecord(cr.collection, rec); err != nil {
					return changed, apperr.Wrap(apperr.Dependency, "failed to release record during full-resync", err)
				}
				changed++

			case rec.Status == types.RecordAssigned && reserved && rec.AssignedTo != owner:
				rec.Status = types.RecordInvalid
				rec.InvalidReason = types.InvalidReasonReservedByOther
				if err := res.store.UpdateRecord(cr.collection, rec); err != nil {
					return changed, apperr.Wrap(apperr.Dependency, "failed to invalidate record during full-resync", err)
				}
				changed++
				res.publish("record.invalidated", rec.AssignedTo, rec.ID, map[string]any{
					"reason":     string(types.InvalidReasonReservedByOther),
					"collection": string(cr.collection),
				})
			}
		}
	}

	metrics.RepairRunsTotal.Inc()
	return changed, nil
}

func matchOwner(rec *types.Record, keyOwners map[string]string) (owner string, matched bool) {
	for _, v := range rec.RowData {
		key := normalize.ID(v)
		if key == "" {
			continue
		}
		if staffID, ok := keyOwners[key]; ok {
			return staffID, true
		}
	}
	return "", false
}

func (res *Resolver) publish(eventType, actor, subject string, data map[string]any) {
	if res.broker == nil {
		return
	}
	res.broker.Publish(&types.AuditEvent{
		ID:      uuid.New().String(),
		Type:    eventType,
		Actor:   actor,
		Subject: subject,
		Data:    data,
		Ts:      time.Now().UTC(),
	})
}
