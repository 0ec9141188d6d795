// Package assignment implements the Assignment Engine (spec §4.E): moving
// available records to a staff member, honoring the currently-approved
// reservation set and deterministic tie-breaks.
package assignment

import (
	"sort"
	"time"

	"github.com/cuemby/ldengine/pkg/apperr"
	"github.com/cuemby/ldengine/pkg/events"
	"github.com/cuemby/ldengine/pkg/metrics"
	"github.com/cuemby/ldengine/pkg/normalize"
	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/google/uuid"
)

// Engine is the Assignment Engine.
type Engine struct {
	store  storage.Store
	broker *events.Broker
}

// New builds an Engine over store.
func New(store storage.Store, broker *events.Broker) *Engine {
	return &Engine{store: store, broker: broker}
}

// ReplacementResult reports what process_invalid actually did, since
// replacement count may fall short of the archived count (spec §4.E).
type ReplacementResult struct {
	ArchivedCount    int
	NewAssignedCount int
	Shortfall        int
}

// reservedKeys returns the normalized key set held by every currently
// approved reservation, used as a belt-and-suspenders filter on top of
// status=available (spec §4.E "excluding anything reserved at the moment
// of selection").
func (e *Engine) reservedKeys() (map[string]struct{}, error) {
	approved, err := e.store.ListReservationsByStatus(types.ReservationApproved)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list approved reservations", err)
	}
	keys := make(map[string]struct{})
	for _, r := range approved {
		for key := range normalize.ReservationKeys(r.CustomerID, r.CustomerName) {
			keys[key] = struct{}{}
		}
	}
	return keys, nil
}

// selectableRecords returns database's available records that do not match
// any currently-approved reservation, ordered by row_number ascending for a
// deterministic selection order.
func (e *Engine) selectableRecords(db *types.DatabaseDescriptor) ([]*types.Record, error) {
	reserved, err := e.reservedKeys()
	if err != nil {
		return nil, err
	}

	candidates, err := e.store.ListRecordsByDatabaseStatus(db.Collection, db.ID, types.RecordAvailable)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list available records", err)
	}

	selectable := make([]*types.Record, 0, len(candidates))
	for _, rec := range candidates {
		if normalize.MatchesRecord(rec, reserved) {
			continue
		}
		selectable = append(selectable, rec)
	}
	sort.Slice(selectable, func(i, j int) bool { return selectable[i].RowNumber < selectable[j].RowNumber })
	return selectable, nil
}

func (e *Engine) assignBatch(records []*types.Record, staffID string) (*types.Batch, error) {
	now := time.Now().UTC()
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		rec.Status = types.RecordAssigned
		rec.AssignedTo = staffID
		rec.AssignedAt = &now
		if err := e.store.UpdateRecord(rec.Collection, rec); err != nil {
			return nil, apperr.Wrap(apperr.Dependency, "failed to assign record", err)
		}
		ids = append(ids, rec.ID)
	}

	batch := &types.Batch{
		ID:        uuid.New().String(),
		StaffID:   staffID,
		RecordIDs: ids,
		CreatedAt: now,
	}
	if len(ids) > 0 {
		if err := e.store.CreateBatch(batch); err != nil {
			return nil, apperr.Wrap(apperr.Dependency, "failed to persist assignment batch", err)
		}
		for _, rec := range records {
			rec.BatchID = batch.ID
			if err := e.store.UpdateRecord(rec.Collection, rec); err != nil {
				return nil, apperr.Wrap(apperr.Dependency, "failed to stamp batch id on record", err)
			}
		}
	}

	return batch, nil
}

// AssignDownloadRequest selects request.Count available, unreserved records
// from the request's database and assigns them all to request.StaffID in
// one logical step, transitioning the request to completed.
func (e *Engine) AssignDownloadRequest(request *types.DownloadRequest) (*types.Batch, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.AssignmentDuration, "assign_download_request")

	dbDesc, err := e.store.GetDatabase(request.DatabaseID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "database not found", err)
	}

	selectable, err := e.selectableRecords(dbDesc)
	if err != nil {
		return nil, err
	}
	if len(selectable) < request.Count {
		return nil, apperr.New(apperr.Exhausted, "not enough available records to satisfy download request")
	}

	picked := selectable[:request.Count]
	batch, err := e.assignBatch(picked, request.StaffID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	request.Status = types.DownloadRequestCompleted
	request.AssignedIDs = batch.RecordIDs
	request.ReviewedAt = &now
	if err := e.store.UpdateDownloadRequest(request); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to update download request", err)
	}

	e.publish("assignment.download_request_completed", request.StaffID, request.ID, map[string]any{
		"database_id": request.DatabaseID,
		"count":       len(batch.RecordIDs),
	})
	return batch, nil
}

// AssignRandom selects count available records from database (excluding
// reservation matches unless excludeReserved is false) with a deterministic
// row_number-ascending tie-break, and assigns them to staffID.
func (e *Engine) AssignRandom(database *types.DatabaseDescriptor, staffID string, count int, excludeReserved bool) (*types.Batch, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.AssignmentDuration, "assign_random")

	var selectable []*types.Record
	var err error
	if excludeReserved {
		selectable, err = e.selectableRecords(database)
	} else {
		selectable, err = e.store.ListRecordsByDatabaseStatus(database.Collection, database.ID, types.RecordAvailable)
		sort.Slice(selectable, func(i, j int) bool { return selectable[i].RowNumber < selectable[j].RowNumber })
	}
	if err != nil {
		return nil, err
	}
	if len(selectable) < count {
		return nil, apperr.New(apperr.Exhausted, "not enough available records for random assignment")
	}

	batch, err := e.assignBatch(selectable[:count], staffID)
	if err != nil {
		return nil, err
	}
	e.publish("assignment.random_completed", staffID, batch.ID, map[string]any{
		"database_id": database.ID,
		"count":       len(batch.RecordIDs),
	})
	return batch, nil
}

// ProcessInvalid archives up to k of staffID's invalid records and assigns
// up to k fresh replacements from the same databases, in one logical
// action. Archival is idempotent; a shortfall in replacements does not roll
// back the archival already performed (spec §4.E failure semantics).
func (e *Engine) ProcessInvalid(staffID string, k int) (*ReplacementResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.AssignmentDuration, "process_invalid")

	invalidRecords, err := e.invalidRecordsForStaff(staffID, k)
	if err != nil {
		return nil, err
	}

	result := &ReplacementResult{}
	for _, rec := range invalidRecords {
		rec.Status = types.RecordArchived
		if err := e.store.UpdateRecord(rec.Collection, rec); err != nil {
			return result, apperr.Wrap(apperr.Dependency, "failed to archive invalid record", err)
		}
		result.ArchivedCount++
	}

	for _, rec := range invalidRecords {
		dbDesc, err := e.store.GetDatabase(rec.DatabaseID)
		if err != nil {
			result.Shortfall++
			continue
		}
		replacement, err := e.AssignRandom(dbDesc, staffID, 1, true)
		if err != nil {
			result.Shortfall++
			continue
		}
		result.NewAssignedCount += len(replacement.RecordIDs)
	}

	metrics.RecordsExhaustedTotal.Add(float64(result.Shortfall))
	e.publish("assignment.process_invalid_completed", staffID, "", map[string]any{
		"archived_count":     result.ArchivedCount,
		"new_assigned_count": result.NewAssignedCount,
		"shortfall":          result.Shortfall,
	})
	return result, nil
}

func (e *Engine) invalidRecordsForStaff(staffID string, k int) ([]*types.Record, error) {
	var out []*types.Record
	for _, collection := range types.Collections() {
		records, err := e.store.ListRecordsByStaffStatus(collection, staffID, types.RecordInvalid)
		if err != nil {
			return nil, apperr.Wrap(apperr.Dependency, "failed to list invalid records", err)
		}
		out = append(out, records...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DatabaseID != out[j].DatabaseID {
			return out[i].DatabaseID < out[j].DatabaseID
		}
		return out[i].RowNumber < out[j].RowNumber
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (e *Engine) publish(eventType, actor, subject string, data map[string]any) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&types.AuditEvent{
		ID:      uuid.New().String(),
		Type:    eventType,
		Actor:   actor,
		Subject: subject,
		Data:    data,
		Ts:      time.Now().UTC(),
	})
}
