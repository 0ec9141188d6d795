package classifier

import (
	"testing"

	"github.com/cuemby/ldengine/pkg/types"
	"github.com/stretchr/testify/assert"
)

func dep(id, date string, seq uint64, notes string) *types.Deposit {
	return &types.Deposit{ID: id, RecordDate: date, InsertionSeq: seq, Notes: notes}
}

func TestClassify_EarliestNonTambahanWinsNDP(t *testing.T) {
	group := []*types.Deposit{
		dep("a", "2026-01-05", 2, ""),
		dep("b", "2026-01-01", 1, ""),
		dep("c", "2026-01-10", 3, ""),
	}
	Classify(group)

	assert.Equal(t, types.CustomerTypeNDP, group[1].CustomerType)
	assert.Equal(t, types.CustomerTypeRDP, group[0].CustomerType)
	assert.Equal(t, types.CustomerTypeRDP, group[2].CustomerType)
}

func TestClassify_TiesBrokenByInsertionOrder(t *testing.T) {
	group := []*types.Deposit{
		dep("a", "2026-01-01", 5, ""),
		dep("b", "2026-01-01", 2, ""),
	}
	Classify(group)

	assert.Equal(t, types.CustomerTypeNDP, group[1].CustomerType)
	assert.Equal(t, types.CustomerTypeRDP, group[0].CustomerType)
}

func TestClassify_TambahanExcludedFromNDPEligibility(t *testing.T) {
	group := []*types.Deposit{
		dep("a", "2026-01-01", 1, "ada tambahan disini"),
		dep("b", "2026-01-02", 2, ""),
	}
	Classify(group)

	assert.Equal(t, types.CustomerTypeRDP, group[0].CustomerType)
	assert.Equal(t, types.CustomerTypeNDP, group[1].CustomerType)
}

func TestClassify_AllTambahanAllRDP(t *testing.T) {
	group := []*types.Deposit{
		dep("a", "2026-01-01", 1, "Tambahan"),
		dep("b", "2026-01-02", 2, "TAMBAHAN lagi"),
	}
	Classify(group)

	assert.Equal(t, types.CustomerTypeRDP, group[0].CustomerType)
	assert.Equal(t, types.CustomerTypeRDP, group[1].CustomerType)
}

func TestClassify_DeletingNDPPromotesNextEligible(t *testing.T) {
	group := []*types.Deposit{
		dep("a", "2026-01-01", 1, ""),
		dep("b", "2026-01-02", 2, ""),
	}
	Classify(group)
	assert.Equal(t, types.CustomerTypeNDP, group[0].CustomerType)

	// Simulate deletion of the current NDP: re-classify the remaining set.
	remaining := group[1:]
	Classify(remaining)
	assert.Equal(t, types.CustomerTypeNDP, remaining[0].CustomerType)
}

func TestClassify_InsertingEarlierRecordDemotesPreviousNDP(t *testing.T) {
	group := []*types.Deposit{
		dep("a", "2026-01-05", 1, ""),
	}
	Classify(group)
	assert.Equal(t, types.CustomerTypeNDP, group[0].CustomerType)

	group = append(group, dep("b", "2026-01-01", 2, ""))
	Classify(group)
	assert.Equal(t, types.CustomerTypeRDP, group[0].CustomerType)
	assert.Equal(t, types.CustomerTypeNDP, group[1].CustomerType)
}
