package ledger

import (
	"testing"

	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil), store
}

func TestInsert_FirstDepositIsNDP(t *testing.T) {
	l, _ := newTestLedger(t)

	d, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-01", 10000, "")
	require.NoError(t, err)
	assert.Equal(t, types.CustomerTypeNDP, d.CustomerType)
}

func TestInsert_SecondDepositSameKeyIsRDP(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-01", 10000, "")
	require.NoError(t, err)
	second, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-02", 5000, "")
	require.NoError(t, err)
	assert.Equal(t, types.CustomerTypeRDP, second.CustomerType)
}

func TestInsert_EarlierBackdatedDepositBecomesNDPAndDemotesOld(t *testing.T) {
	l, store := newTestLedger(t)

	first, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-10", 10000, "")
	require.NoError(t, err)
	require.Equal(t, types.CustomerTypeNDP, first.CustomerType)

	_, err = l.Insert("staff-1", "prod-a", "cust-1", "2026-01-01", 5000, "")
	require.NoError(t, err)

	reloadedFirst, err := store.GetDeposit(first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CustomerTypeRDP, reloadedFirst.CustomerType)
}

func TestInsert_TambahanNeverNDPEvenIfEarliest(t *testing.T) {
	l, _ := newTestLedger(t)

	d, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-01", 10000, "ini tambahan")
	require.NoError(t, err)
	assert.Equal(t, types.CustomerTypeRDP, d.CustomerType)
}

func TestDelete_PromotesNextEligibleToNDP(t *testing.T) {
	l, store := newTestLedger(t)

	first, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-01", 10000, "")
	require.NoError(t, err)
	second, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-05", 5000, "")
	require.NoError(t, err)
	require.Equal(t, types.CustomerTypeNDP, first.CustomerType)
	require.Equal(t, types.CustomerTypeRDP, second.CustomerType)

	require.NoError(t, l.Delete(first.ID))

	reloadedSecond, err := store.GetDeposit(second.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CustomerTypeNDP, reloadedSecond.CustomerType)
}

func TestUpdate_ChangingCustomerIDRecomputesBothKeys(t *testing.T) {
	l, store := newTestLedger(t)

	a, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-01", 10000, "")
	require.NoError(t, err)
	b, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-05", 5000, "")
	require.NoError(t, err)
	require.Equal(t, types.CustomerTypeNDP, a.CustomerType)
	require.Equal(t, types.CustomerTypeRDP, b.CustomerType)

	newCustomer := "cust-2"
	_, err = l.Update(b.ID, DepositEdit{CustomerID: &newCustomer})
	require.NoError(t, err)

	// b now alone under cust-2|prod-a: it must become NDP.
	movedB, err := store.GetDeposit(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CustomerTypeNDP, movedB.CustomerType)

	// a remains alone under cust-1|prod-a and stays NDP.
	reloadedA, err := store.GetDeposit(a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CustomerTypeNDP, reloadedA.CustomerType)
}

func TestListByDate_ReturnsOnlyThatDate(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Insert("staff-1", "prod-a", "cust-1", "2026-01-01", 10000, "")
	require.NoError(t, err)
	_, err = l.Insert("staff-1", "prod-a", "cust-2", "2026-01-02", 5000, "")
	require.NoError(t, err)

	deposits, err := l.ListByDate("2026-01-01")
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, "cust-1", deposits[0].CustomerID)
}
