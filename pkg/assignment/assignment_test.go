package assignment

import (
	"testing"
	"time"

	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil), store
}

func mustDatabase(t *testing.T, store storage.Store, id string, collection types.Collection) *types.DatabaseDescriptor {
	t.Helper()
	db := &types.DatabaseDescriptor{ID: id, Name: id, ProductID: "prod-a", Collection: collection, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateDatabase(db))
	return db
}

func mustAvailableRecord(t *testing.T, store storage.Store, collection types.Collection, databaseID string, rowNumber int, rowData map[string]string) *types.Record {
	t.Helper()
	rec := &types.Record{
		ID:         uuid.New().String(),
		Collection: collection,
		DatabaseID: databaseID,
		ProductID:  "prod-a",
		RowNumber:  rowNumber,
		RowData:    rowData,
		Status:     types.RecordAvailable,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateRecord(collection, rec))
	return rec
}

func TestAssignDownloadRequest_SelectsNAvailableRecords(t *testing.T) {
	eng, store := newTestEngine(t)
	db := mustDatabase(t, store, "db-1", types.CollectionGeneral)
	for i := 1; i <= 5; i++ {
		mustAvailableRecord(t, store, types.CollectionGeneral, db.ID, i, map[string]string{"user": "X"})
	}

	req := &types.DownloadRequest{ID: uuid.New().String(), DatabaseID: db.ID, StaffID: "staff-1", Count: 3, Status: types.DownloadRequestApproved}
	require.NoError(t, store.CreateDownloadRequest(req))

	batch, err := eng.AssignDownloadRequest(req)
	require.NoError(t, err)
	assert.Len(t, batch.RecordIDs, 3)

	updated, err := store.GetDownloadRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DownloadRequestCompleted, updated.Status)
	assert.Len(t, updated.AssignedIDs, 3)
}

func TestAssignDownloadRequest_ExcludesReservedRecords(t *testing.T) {
	eng, store := newTestEngine(t)
	db := mustDatabase(t, store, "db-1", types.CollectionGeneral)
	mustAvailableRecord(t, store, types.CollectionGeneral, db.ID, 1, map[string]string{"user": "BOB"})
	mustAvailableRecord(t, store, types.CollectionGeneral, db.ID, 2, map[string]string{"user": "ALICE"})

	res := &types.Reservation{ID: uuid.New().String(), CustomerID: "BOB", ProductID: "prod-a", StaffID: "staff-2", Status: types.ReservationApproved, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateReservation(res))

	req := &types.DownloadRequest{ID: uuid.New().String(), DatabaseID: db.ID, StaffID: "staff-1", Count: 2, Status: types.DownloadRequestApproved}
	require.NoError(t, store.CreateDownloadRequest(req))

	_, err := eng.AssignDownloadRequest(req)
	require.Error(t, err)
}

func TestAssignDownloadRequest_ExhaustedWhenNotEnoughRecords(t *testing.T) {
	eng, store := newTestEngine(t)
	db := mustDatabase(t, store, "db-1", types.CollectionGeneral)
	mustAvailableRecord(t, store, types.CollectionGeneral, db.ID, 1, map[string]string{"user": "X"})

	req := &types.DownloadRequest{ID: uuid.New().String(), DatabaseID: db.ID, StaffID: "staff-1", Count: 5, Status: types.DownloadRequestApproved}
	require.NoError(t, store.CreateDownloadRequest(req))

	_, err := eng.AssignDownloadRequest(req)
	require.Error(t, err)
}

func TestAssignRandom_DeterministicRowNumberTieBreak(t *testing.T) {
	eng, store := newTestEngine(t)
	db := mustDatabase(t, store, "db-1", types.CollectionGeneral)
	mustAvailableRecord(t, store, types.CollectionGeneral, db.ID, 3, map[string]string{"user": "A"})
	mustAvailableRecord(t, store, types.CollectionGeneral, db.ID, 1, map[string]string{"user": "B"})
	mustAvailableRecord(t, store, types.CollectionGeneral, db.ID, 2, map[string]string{"user": "C"})

	batch, err := eng.AssignRandom(db, "staff-1", 2, true)
	require.NoError(t, err)
	require.Len(t, batch.RecordIDs, 2)

	rec1, err := store.GetRecordByDatabaseRowNumber(types.CollectionGeneral, db.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, types.RecordAssigned, rec1.Status)

	rec2, err := store.GetRecordByDatabaseRowNumber(types.CollectionGeneral, db.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, types.RecordAssigned, rec2.Status)

	rec3, err := store.GetRecordByDatabaseRowNumber(types.CollectionGeneral, db.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, types.RecordAvailable, rec3.Status)
}

func TestProcessInvalid_ArchivesAndReplaces(t *testing.T) {
	eng, store := newTestEngine(t)
	db := mustDatabase(t, store, "db-1", types.CollectionGeneral)

	invalid := &types.Record{ID: uuid.New().String(), Collection: types.CollectionGeneral, DatabaseID: db.ID, ProductID: "prod-a", RowNumber: 1, RowData: map[string]string{"user": "X"}, Status: types.RecordInvalid, AssignedTo: "staff-1", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateRecord(types.CollectionGeneral, invalid))

	mustAvailableRecord(t, store, types.CollectionGeneral, db.ID, 2, map[string]string{"user": "Y"})

	result, err := eng.ProcessInvalid("staff-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ArchivedCount)
	assert.Equal(t, 1, result.NewAssignedCount)
	assert.Equal(t, 0, result.Shortfall)

	archived, err := store.GetRecord(types.CollectionGeneral, invalid.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RecordArchived, archived.Status)
}

func TestProcessInvalid_ReportsShortfallWithoutRollingBackArchival(t *testing.T) {
	eng, store := newTestEngine(t)
	db := mustDatabase(t, store, "db-1", types.CollectionGeneral)

	invalid := &types.Record{ID: uuid.New().String(), Collection: types.CollectionGeneral, DatabaseID: db.ID, ProductID: "prod-a", RowNumber: 1, RowData: map[string]string{"user": "X"}, Status: types.RecordInvalid, AssignedTo: "staff-1", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateRecord(types.CollectionGeneral, invalid))
	// No available replacements exist.

	result, err := eng.ProcessInvalid("staff-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ArchivedCount)
	assert.Equal(t, 0, result.NewAssignedCount)
	assert.Equal(t, 1, result.Shortfall)

	archived, err := store.GetRecord(types.CollectionGeneral, invalid.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RecordArchived, archived.Status)
}

func TestProcessInvalid_ArchivalIsIdempotent(t *testing.T) {
	eng, store := newTestEngine(t)
	db := mustDatabase(t, store, "db-1", types.CollectionGeneral)

	invalid := &types.Record{ID: uuid.New().String(), Collection: types.CollectionGeneral, DatabaseID: db.ID, ProductID: "prod-a", RowNumber: 1, RowData: map[string]string{"user": "X"}, Status: types.RecordInvalid, AssignedTo: "staff-1", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateRecord(types.CollectionGeneral, invalid))

	_, err := eng.ProcessInvalid("staff-1", 5)
	require.NoError(t, err)

	result, err := eng.ProcessInvalid("staff-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ArchivedCount)
}
