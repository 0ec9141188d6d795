package health

import (
	"testing"

	"github.com/cuemby/ldengine/pkg/events"
	"github.com/cuemby/ldengine/pkg/resolver"
	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStaffDirectory struct {
	exists map[string]bool
}

func (f *fakeStaffDirectory) Exists(staffID string) (bool, error) {
	return f.exists[staffID], nil
}

func newTestChecker(t *testing.T, staff StaffDirectory) (*Checker, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	res := resolver.New(store, events.NewBroker())
	return New(store, res, staff), store
}

func mustDatabase(t *testing.T, store storage.Store, id string, totalRecords int) {
	t.Helper()
	require.NoError(t, store.CreateDatabase(&types.DatabaseDescriptor{ID: id, Name: id, TotalRecords: totalRecords}))
}

func mustRecord(t *testing.T, store storage.Store, collection types.Collection, id, databaseID string, status types.RecordStatus) *types.Record {
	t.Helper()
	rec := &types.Record{ID: id, DatabaseID: databaseID, RowNumber: 1, Status: status, RowData: map[string]string{}}
	require.NoError(t, store.CreateRecord(collection, rec))
	return rec
}

func TestDiagnose_FlagsRecordReferencingMissingDatabase(t *testing.T) {
	checker, store := newTestChecker(t, nil)
	mustRecord(t, store, types.CollectionGeneral, "rec-1", "db-missing", types.RecordAvailable)

	findings, err := checker.Diagnose()
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, DiagMissingDatabase, findings[0].Kind)
}

func TestDiagnose_FlagsInvalidRecordWithOrphanedStaff(t *testing.T) {
	staff := &fakeStaffDirectory{exists: map[string]bool{"staff-1": true}}
	checker, store := newTestChecker(t, staff)
	mustDatabase(t, store, "db-1", 0)

	rec := mustRecord(t, store, types.CollectionGeneral, "rec-1", "db-1", types.RecordInvalid)
	rec.AssignedTo = "staff-gone"
	require.NoError(t, store.UpdateRecord(types.CollectionGeneral, rec))

	findings, err := checker.Diagnose()
	require.NoError(t, err)
	var kinds []DiagnosticKind
	for _, f := range findings {
		kinds = append(kinds, f.Kind)
	}
	assert.Contains(t, kinds, DiagOrphanedStaff)
}

func TestDiagnose_SkipsOrphanedStaffWhenNoDirectoryProvided(t *testing.T) {
	checker, store := newTestChecker(t, nil)
	mustDatabase(t, store, "db-1", 0)

	rec := mustRecord(t, store, types.CollectionGeneral, "rec-1", "db-1", types.RecordInvalid)
	rec.AssignedTo = "staff-gone"
	require.NoError(t, store.UpdateRecord(types.CollectionGeneral, rec))

	findings, err := checker.Diagnose()
	require.NoError(t, err)
	for _, f := range findings {
		assert.NotEqual(t, DiagOrphanedStaff, f.Kind)
	}
}

func TestDiagnose_FlagsBatchCountMismatch(t *testing.T) {
	checker, store := newTestChecker(t, nil)
	mustDatabase(t, store, "db-1", 5)
	mustRecord(t, store, types.CollectionGeneral, "rec-1", "db-1", types.RecordAvailable)

	findings, err := checker.Diagnose()
	require.NoError(t, err)
	var found bool
	for _, f := range findings {
		if f.Kind == DiagBatchCountMismatch {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRepair_FixesBatchCountMismatch(t *testing.T) {
	checker, store := newTestChecker(t, nil)
	mustDatabase(t, store, "db-1", 5)
	mustRecord(t, store, types.CollectionGeneral, "rec-1", "db-1", types.RecordAvailable)

	summary, err := checker.Repair()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Changed, 1)

	d, err := store.GetDatabase("db-1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.TotalRecords)
}

func TestRepair_IsIdempotent(t *testing.T) {
	checker, store := newTestChecker(t, nil)
	mustDatabase(t, store, "db-1", 1)
	mustRecord(t, store, types.CollectionGeneral, "rec-1", "db-1", types.RecordAvailable)

	_, err := checker.Repair()
	require.NoError(t, err)

	second, err := checker.Repair()
	require.NoError(t, err)
	assert.Equal(t, 0, second.Changed)
}

func TestDiagnose_StableAcrossRunsWithNoIntervalMutation(t *testing.T) {
	checker, store := newTestChecker(t, nil)
	mustDatabase(t, store, "db-1", 5)
	rec := mustRecord(t, store, types.CollectionGeneral, "rec-1", "db-1", types.RecordAvailable)
	rec.RowData["customer_id"] = "cust-1"
	require.NoError(t, store.UpdateRecord(types.CollectionGeneral, rec))

	first, err := checker.Diagnose()
	require.NoError(t, err)
	second, err := checker.Diagnose()
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("diagnose was not stable across runs (-first +second):\n%s", diff)
	}
}
