package resolver

import (
	"testing"
	"time"

	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil), store
}

func mustRecord(t *testing.T, store storage.Store, collection types.Collection, rowNumber int, rowData map[string]string, status types.RecordStatus) *types.Record {
	t.Helper()
	rec := &types.Record{
		ID:         uuid.New().String(),
		Collection: collection,
		DatabaseID: "db-1",
		ProductID:  "prod-a",
		RowNumber:  rowNumber,
		RowData:    rowData,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateRecord(collection, rec))
	return rec
}

func mustApprovedReservation(t *testing.T, store storage.Store, customerID, productID, staffID string) *types.Reservation {
	t.Helper()
	res := &types.Reservation{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		ProductID:  productID,
		StaffID:    staffID,
		Status:     types.ReservationApproved,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateReservation(res))
	return res
}

func TestOnAdd_ReservesMatchingAvailableRecord(t *testing.T) {
	r, store := newTestResolver(t)

	rec := mustRecord(t, store, types.CollectionGeneral, 1, map[string]string{"Username": "BOB"}, types.RecordAvailable)
	res := mustApprovedReservation(t, store, "BOB", "prod-a", "staff-b")

	err := r.OnAdd(res, map[string]struct{}{"BOB": {}})
	require.NoError(t, err)

	got, err := store.GetRecord(types.CollectionGeneral, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RecordReserved, got.Status)
	assert.Equal(t, "staff-b", got.ReservedBy)
}

func TestOnAdd_InvalidatesAssignedRecordHeldByOtherStaff(t *testing.T) {
	r, store := newTestResolver(t)

	rec := mustRecord(t, store, types.CollectionGeneral, 1, map[string]string{"user": "BOB"}, types.RecordAssigned)
	rec.AssignedTo = "staff-a"
	require.NoError(t, store.UpdateRecord(types.CollectionGeneral, rec))

	res := mustApprovedReservation(t, store, "BOB", "prod-a", "staff-b")

	require.NoError(t, r.OnAdd(res, map[string]struct{}{"BOB": {}}))

	got, err := store.GetRecord(types.CollectionGeneral, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RecordInvalid, got.Status)
	assert.Equal(t, types.InvalidReasonReservedByOther, got.InvalidReason)
}

func TestOnAdd_DoesNotInvalidateOwnAssignment(t *testing.T) {
	r, store := newTestResolver(t)

	rec := mustRecord(t, store, types.CollectionGeneral, 1, map[string]string{"user": "BOB"}, types.RecordAssigned)
	rec.AssignedTo = "staff-b"
	require.NoError(t, store.UpdateRecord(types.CollectionGeneral, rec))

	res := mustApprovedReservation(t, store, "BOB", "prod-a", "staff-b")
	require.NoError(t, r.OnAdd(res, map[string]struct{}{"BOB": {}}))

	got, err := store.GetRecord(types.CollectionGeneral, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RecordAssigned, got.Status)
}

func TestOnRemove_RevertsReservedToAvailableWhenNoOtherCoverage(t *testing.T) {
	r, store := newTestResolver(t)

	rec := mustRecord(t, store, types.CollectionGeneral, 1, map[string]string{"user": "BOB"}, types.RecordReserved)
	res := mustApprovedReservation(t, store, "BOB", "prod-a", "staff-b")

	require.NoError(t, r.OnRemove(res, map[string]struct{}{"BOB": {}}))

	got, err := store.GetRecord(types.CollectionGeneral, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RecordAvailable, got.Status)
	assert.Empty(t, got.ReservedBy)
}

func TestOnRemove_KeepsReservedWhenAnotherApprovedReservationStillCovers(t *testing.T) {
	r, store := newTestResolver(t)

	rec := mustRecord(t, store, types.CollectionGeneral, 1, map[string]string{"user": "BOB"}, types.RecordReserved)
	removed := mustApprovedReservation(t, store, "BOB", "prod-a", "staff-b")
	// A second approved reservation also covers BOB under the same product.
	mustApprovedReservation(t, store, "BOB", "prod-a", "staff-c")

	require.NoError(t, r.OnRemove(removed, map[string]struct{}{"BOB": {}}))

	got, err := store.GetRecord(types.CollectionGeneral, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RecordReserved, got.Status)
}

func TestFullResync_IsIdempotent(t *testing.T) {
	r, store := newTestResolver(t)

	mustRecord(t, store, types.CollectionGeneral, 1, map[string]string{"user": "BOB"}, types.RecordAvailable)
	mustApprovedReservation(t, store, "BOB", "prod-a", "staff-b")

	changed, err := r.FullResync()
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	changed, err = r.FullResync()
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}

func TestFullResync_ReconstructsAcrossCollections(t *testing.T) {
	r, store := newTestResolver(t)

	mustRecord(t, store, types.CollectionGeneral, 1, map[string]string{"user": "BOB"}, types.RecordAvailable)
	mustRecord(t, store, types.CollectionBonanza, 1, map[string]string{"user": "BOB"}, types.RecordAvailable)
	mustRecord(t, store, types.CollectionMemberWD, 1, map[string]string{"user": "ALICE"}, types.RecordAvailable)
	mustApprovedReservation(t, store, "BOB", "prod-a", "staff-b")

	changed, err := r.FullResync()
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	memberwd, err := store.ListRecords(types.CollectionMemberWD)
	require.NoError(t, err)
	require.Len(t, memberwd, 1)
	assert.Equal(t, types.RecordAvailable, memberwd[0].Status)
}
