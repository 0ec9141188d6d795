// Package downloadrequest implements the Download-Request Workflow (spec
// §4.F): per-database auto-approve decisioning on submission, and the
// pending-queue lifecycle for requests that are not auto-approved.
package downloadrequest

import (
	"time"

	"github.com/cuemby/ldengine/pkg/apperr"
	"github.com/cuemby/ldengine/pkg/assignment"
	"github.com/cuemby/ldengine/pkg/events"
	"github.com/cuemby/ldengine/pkg/metrics"
	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/google/uuid"
)

// Workflow is the Download-Request Workflow.
type Workflow struct {
	store    storage.Store
	assigner *assignment.Engine
	broker   *events.Broker
}

// New builds a Workflow.
func New(store storage.Store, assigner *assignment.Engine, broker *events.Broker) *Workflow {
	return &Workflow{store: store, assigner: assigner, broker: broker}
}

// effectiveAutoApprove resolves the tri-state decision table in spec §4.F.
func effectiveAutoApprove(globalEnabled bool, perDatabase *bool) bool {
	if !globalEnabled {
		return false
	}
	return perDatabase == nil || *perDatabase
}

// Submit creates a download request and immediately decides its fate per
// the auto-approve decision table. If auto-approved, the Assignment Engine
// runs synchronously and the request is returned already completed.
func (w *Workflow) Submit(databaseID, staffID string, count int, globalAutoApproveEnabled bool) (*types.DownloadRequest, error) {
	db, err := w.store.GetDatabase(databaseID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "database not found", err)
	}
	if count <= 0 {
		return nil, apperr.New(apperr.Validation, "count must be positive")
	}

	req := &types.DownloadRequest{
		ID:          uuid.New().String(),
		DatabaseID:  databaseID,
		StaffID:     staffID,
		Count:       count,
		Status:      types.DownloadRequestPending,
		RequestedAt: time.Now().UTC(),
	}

	if !effectiveAutoApprove(globalAutoApproveEnabled, db.AutoApprove) {
		if err := w.store.CreateDownloadRequest(req); err != nil {
			return nil, apperr.Wrap(apperr.Dependency, "failed to persist download request", err)
		}
		metrics.DownloadRequestsTotal.WithLabelValues("pending").Inc()
		w.publish("download_request.pending", staffID, req.ID, map[string]any{"database_id": databaseID, "count": count})
		return req, nil
	}

	req.Status = types.DownloadRequestApproved
	now := time.Now().UTC()
	req.ReviewedAt = &now
	if err := w.store.CreateDownloadRequest(req); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to persist download request", err)
	}

	if _, err := w.assigner.AssignDownloadRequest(req); err != nil {
		return req, err
	}
	metrics.DownloadRequestsTotal.WithLabelValues("auto_approved").Inc()
	return req, nil
}

// ListPending returns pending requests for one database, since the admin
// bulk approve/reject surface always paginates by database.
func (w *Workflow) ListPending(databaseID string) ([]*types.DownloadRequest, error) {
	out, err := w.store.ListPendingDownloadRequests(databaseID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list pending download requests", err)
	}
	return out, nil
}

// Approve transitions a pending request to approved and runs the
// Assignment Engine synchronously.
func (w *Workflow) Approve(id string) (*types.DownloadRequest, error) {
	req, err := w.store.GetDownloadRequest(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "download request not found", err)
	}
	if req.Status != types.DownloadRequestPending {
		return nil, apperr.New(apperr.Conflict, "download request is not pending")
	}

	req.Status = types.DownloadRequestApproved
	now := time.Now().UTC()
	req.ReviewedAt = &now
	if err := w.store.UpdateDownloadRequest(req); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to update download request", err)
	}

	if _, err := w.assigner.AssignDownloadRequest(req); err != nil {
		return req, err
	}
	metrics.DownloadRequestsTotal.WithLabelValues("approved").Inc()
	return req, nil
}

// Reject transitions a pending request to rejected. State only, no
// assignment side effect.
func (w *Workflow) Reject(id string) (*types.DownloadRequest, error) {
	req, err := w.store.GetDownloadRequest(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "download request not found", err)
	}
	if req.Status != types.DownloadRequestPending {
		return nil, apperr.New(apperr.Conflict, "download request is not pending")
	}

	req.Status = types.DownloadRequestRejected
	now := time.Now().UTC()
	req.ReviewedAt = &now
	if err := w.store.UpdateDownloadRequest(req); err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to update download request", err)
	}
	metrics.DownloadRequestsTotal.WithLabelValues("rejected").Inc()
	w.publish("download_request.rejected", req.StaffID, req.ID, nil)
	return req, nil
}

// BulkResult reports the outcome of one request within a bulk operation.
type BulkResult struct {
	RequestID string
	Err       error
}

// BulkApprove approves every request in ids, continuing past individual
// failures so one exhausted database does not block the rest of the batch.
func (w *Workflow) BulkApprove(ids []string) []BulkResult {
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		_, err := w.Approve(id)
		results = append(results, BulkResult{RequestID: id, Err: err})
	}
	return results
}

// BulkReject rejects every request in ids.
func (w *Workflow) BulkReject(ids []string) []BulkResult {
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		_, err := w.Reject(id)
		results = append(results, BulkResult{RequestID: id, Err: err})
	}
	return results
}

func (w *Workflow) publish(eventType, actor, subject string, data map[string]any) {
	if w.broker == nil {
		return
	}
	w.broker.Publish(&types.AuditEvent{
		ID:      uuid.New().String(),
		Type:    eventType,
		Actor:   actor,
		Subject: subject,
		Data:    data,
		Ts:      time.Now().UTC(),
	})
}
