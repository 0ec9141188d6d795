package downloadrequest

import (
	"testing"
	"time"

	"github.com/cuemby/ldengine/pkg/assignment"
	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkflow(t *testing.T) (*Workflow, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	engine := assignment.New(store, nil)
	return New(store, engine, nil), store
}

func mustDatabase(t *testing.T, store storage.Store, id string, autoApprove *bool) *types.DatabaseDescriptor {
	t.Helper()
	db := &types.DatabaseDescriptor{ID: id, Name: id, ProductID: "prod-a", Collection: types.CollectionGeneral, AutoApprove: autoApprove, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateDatabase(db))
	return db
}

func mustAvailableRecords(t *testing.T, store storage.Store, databaseID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		rec := &types.Record{ID: uuid.New().String(), Collection: types.CollectionGeneral, DatabaseID: databaseID, ProductID: "prod-a", RowNumber: i, RowData: map[string]string{"user": "X"}, Status: types.RecordAvailable, CreatedAt: time.Now().UTC()}
		require.NoError(t, store.CreateRecord(types.CollectionGeneral, rec))
	}
}

func boolPtr(b bool) *bool { return &b }

func TestSubmit_GlobalOffAlwaysPending(t *testing.T) {
	w, store := newTestWorkflow(t)
	db := mustDatabase(t, store, "db-1", boolPtr(true))
	mustAvailableRecords(t, store, db.ID, 3)

	req, err := w.Submit(db.ID, "staff-1", 2, false)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadRequestPending, req.Status)
}

func TestSubmit_GlobalOnNilOrTrueAutoApproves(t *testing.T) {
	w, store := newTestWorkflow(t)
	db := mustDatabase(t, store, "db-1", nil)
	mustAvailableRecords(t, store, db.ID, 3)

	req, err := w.Submit(db.ID, "staff-1", 2, true)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadRequestCompleted, req.Status)
	assert.Len(t, req.AssignedIDs, 2)
}

func TestSubmit_GlobalOnPerDatabaseFalseIsPending(t *testing.T) {
	w, store := newTestWorkflow(t)
	db := mustDatabase(t, store, "db-1", boolPtr(false))
	mustAvailableRecords(t, store, db.ID, 3)

	req, err := w.Submit(db.ID, "staff-1", 2, true)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadRequestPending, req.Status)
}

func TestApprove_RunsAssignment(t *testing.T) {
	w, store := newTestWorkflow(t)
	db := mustDatabase(t, store, "db-1", boolPtr(false))
	mustAvailableRecords(t, store, db.ID, 3)

	req, err := w.Submit(db.ID, "staff-1", 2, true)
	require.NoError(t, err)
	require.Equal(t, types.DownloadRequestPending, req.Status)

	approved, err := w.Approve(req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadRequestCompleted, approved.Status)
	assert.Len(t, approved.AssignedIDs, 2)
}

func TestReject_SetsStatusOnlyNoAssignment(t *testing.T) {
	w, store := newTestWorkflow(t)
	db := mustDatabase(t, store, "db-1", boolPtr(false))
	mustAvailableRecords(t, store, db.ID, 3)

	req, err := w.Submit(db.ID, "staff-1", 2, true)
	require.NoError(t, err)

	rejected, err := w.Reject(req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadRequestRejected, rejected.Status)
	assert.Empty(t, rejected.AssignedIDs)
}

func TestListPending_FiltersByDatabase(t *testing.T) {
	w, store := newTestWorkflow(t)
	db1 := mustDatabase(t, store, "db-1", boolPtr(false))
	db2 := mustDatabase(t, store, "db-2", boolPtr(false))
	mustAvailableRecords(t, store, db1.ID, 2)
	mustAvailableRecords(t, store, db2.ID, 2)

	_, err := w.Submit(db1.ID, "staff-1", 1, true)
	require.NoError(t, err)
	_, err = w.Submit(db2.ID, "staff-2", 1, true)
	require.NoError(t, err)

	pending1, err := w.ListPending(db1.ID)
	require.NoError(t, err)
	require.Len(t, pending1, 1)
	assert.Equal(t, db1.ID, pending1[0].DatabaseID)
}

func TestBulkApprove_ContinuesPastFailures(t *testing.T) {
	w, store := newTestWorkflow(t)
	db := mustDatabase(t, store, "db-1", boolPtr(false))
	mustAvailableRecords(t, store, db.ID, 1)

	req1, err := w.Submit(db.ID, "staff-1", 1, true)
	require.NoError(t, err)
	req2, err := w.Submit(db.ID, "staff-2", 1, true)
	require.NoError(t, err)

	results := w.BulkApprove([]string{req1.ID, req2.ID})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}
