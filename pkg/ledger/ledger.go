// Package ledger implements the Deposit Ledger (spec §4.G): append-only
// deposit writes that trigger NDP/RDP recomputation over their full
// recompute-key group on every insert, update, and delete.
package ledger

import (
	"time"

	"github.com/cuemby/ldengine/pkg/apperr"
	"github.com/cuemby/ldengine/pkg/classifier"
	"github.com/cuemby/ldengine/pkg/events"
	"github.com/cuemby/ldengine/pkg/metrics"
	"github.com/cuemby/ldengine/pkg/normalize"
	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Ledger is the Deposit Ledger.
type Ledger struct {
	store  storage.Store
	broker *events.Broker
	group  singleflight.Group
}

// New builds a Ledger.
func New(store storage.Store, broker *events.Broker) *Ledger {
	return &Ledger{store: store, broker: broker}
}

func recomputeKeyString(key types.RecomputeKey) string {
	return key.CustomerIDNormalized + "|" + key.ProductID
}

// recompute reclassifies every deposit sharing key, collapsing concurrent
// callers for the same key onto one pass (spec §5: recomputation must be
// scoped to the recompute-key so concurrent writers to the same pair cannot
// leave inconsistent classifications).
func (l *Ledger) recompute(key types.RecomputeKey) error {
	timer := metrics.NewTimer()
	_, err, _ := l.group.Do(recomputeKeyString(key), func() (any, error) {
		deposits, err := l.store.ListDepositsByRecomputeKey(key)
		if err != nil {
			return nil, apperr.Wrap(apperr.Dependency, "failed to list deposits for recompute key", err)
		}
		classifier.Classify(deposits)
		now := time.Now().UTC()
		for _, d := range deposits {
			d.UpdatedAt = now
			if err := l.store.UpdateDeposit(d); err != nil {
				return nil, apperr.Wrap(apperr.Dependency, "failed to persist reclassified deposit", err)
			}
		}
		metrics.ClassifierRecomputationsTotal.Inc()
		return nil, nil
	})
	timer.ObserveDuration(metrics.ClassifierRecomputeDuration)
	return err
}

// Insert appends a new deposit and recomputes its recompute-key group.
func (l *Ledger) Insert(staffID, productID, customerID, recordDate string, nominal int64, notes string) (*types.Deposit, error) {
	normalized := normalize.ID(customerID)
	if normalized == "" {
		return nil, apperr.New(apperr.Validation, "customer_id required")
	}

	seq, err := l.store.NextInsertionSeq()
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to allocate insertion sequence", err)
	}

	now := time.Now().UTC()
	d := &types.Deposit{
		ID:                   uuid.New().String(),
		StaffID:              staffID,
		ProductID:            productID,
		CustomerID:           customerID,
		CustomerIDNormalized: normalized,
		RecordDate:           recordDate,
		Nominal:              nominal,
		Notes:                notes,
		InsertionSeq:         seq,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := l.store.CreateDeposit(d); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to persist deposit", err)
	}

	key := types.RecomputeKey{CustomerIDNormalized: normalized, ProductID: productID}
	if err := l.recompute(key); err != nil {
		return d, err
	}

	reloaded, err := l.store.GetDeposit(d.ID)
	if err != nil {
		return d, apperr.Wrap(apperr.Dependency, "failed to reload deposit after recompute", err)
	}
	l.publish("deposit.inserted", staffID, reloaded.ID, reloaded)
	return reloaded, nil
}

// DepositEdit carries the subset of fields an update changes; nil fields
// are left unchanged.
type DepositEdit struct {
	CustomerID *string
	ProductID  *string
	RecordDate *string
	Notes      *string
	Nominal    *int64
}

// Update applies edit to an existing deposit and recomputes both the old
// and new recompute-key groups when customer_id or product_id changed
// (spec §4.G).
func (l *Ledger) Update(id string, edit DepositEdit) (*types.Deposit, error) {
	existing, err := l.store.GetDeposit(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "deposit not found", err)
	}
	oldKey := types.RecomputeKey{CustomerIDNormalized: existing.CustomerIDNormalized, ProductID: existing.ProductID}

	if edit.CustomerID != nil {
		existing.CustomerID = *edit.CustomerID
		existing.CustomerIDNormalized = normalize.ID(*edit.CustomerID)
	}
	if edit.ProductID != nil {
		existing.ProductID = *edit.ProductID
	}
	if edit.RecordDate != nil {
		existing.RecordDate = *edit.RecordDate
	}
	if edit.Notes != nil {
		existing.Notes = *edit.Notes
	}
	if edit.Nominal != nil {
		existing.Nominal = *edit.Nominal
	}
	existing.UpdatedAt = time.Now().UTC()

	if err := l.store.UpdateDeposit(existing); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to persist deposit edit", err)
	}

	newKey := types.RecomputeKey{CustomerIDNormalized: existing.CustomerIDNormalized, ProductID: existing.ProductID}
	if err := l.recompute(oldKey); err != nil {
		return nil, err
	}
	if newKey != oldKey {
		if err := l.recompute(newKey); err != nil {
			return nil, err
		}
	}

	reloaded, err := l.store.GetDeposit(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to reload deposit after recompute", err)
	}
	l.publish("deposit.updated", reloaded.StaffID, reloaded.ID, reloaded)
	return reloaded, nil
}

// Delete removes a deposit and recomputes the remainder of its group.
func (l *Ledger) Delete(id string) error {
	existing, err := l.store.GetDeposit(id)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, "deposit not found", err)
	}
	key := types.RecomputeKey{CustomerIDNormalized: existing.CustomerIDNormalized, ProductID: existing.ProductID}

	if err := l.store.DeleteDeposit(id); err != nil {
		return apperr.Wrap(apperr.Dependency, "failed to delete deposit", err)
	}
	if err := l.recompute(key); err != nil {
		return err
	}
	l.publish("deposit.deleted", existing.StaffID, existing.ID, nil)
	return nil
}

// ListByDate returns every deposit recorded on date (spec §4.I input).
func (l *Ledger) ListByDate(date string) ([]*types.Deposit, error) {
	out, err := l.store.ListDepositsByDate(date)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list deposits by date", err)
	}
	return out, nil
}

func (l *Ledger) publish(eventType, actor, subject string, deposit *types.Deposit) {
	if l.broker == nil {
		return
	}
	data := map[string]any{}
	if deposit != nil {
		data["product_id"] = deposit.ProductID
		data["customer_type"] = string(deposit.CustomerType)
	}
	l.broker.Publish(&types.AuditEvent{
		ID:      uuid.New().String(),
		Type:    eventType,
		Actor:   actor,
		Subject: subject,
		Data:    data,
		Ts:      time.Now().UTC(),
	})
}
