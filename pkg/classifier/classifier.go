// Package classifier implements the NDP/RDP Classifier (spec §4.H): the
// pure decision of which deposit in a (customer, product) group is "first"
// (NDP) versus "repeat" (RDP), excluding tambahan rows from eligibility.
// Pure logic, no suspension points.
package classifier

import (
	"sort"
	"strings"

	"github.com/cuemby/ldengine/pkg/types"
)

// IsTambahan reports whether notes carries the sentinel substring
// "tambahan", matched case-insensitively and unanchored.
func IsTambahan(notes string) bool {
	return strings.Contains(strings.ToLower(notes), "tambahan")
}

// Classify assigns CustomerType to every deposit in group, mutating each in
// place. group must contain every deposit sharing one recompute key
// (normalized customer_id, product_id); calling it with a partial group
// produces an incorrect classification.
//
// Idempotent and order-independent: re-running over the same group (in any
// order) always yields the same assignment, since the NDP winner is
// determined by (record_date, insertion_seq), not by call order.
func Classify(group []*types.Deposit) {
	nonTambahan := make([]*types.Deposit, 0, len(group))
	for _, d := range group {
		if !IsTambahan(d.Notes) {
			nonTambahan = append(nonTambahan, d)
		}
	}

	if len(nonTambahan) == 0 {
		for _, d := range group {
			d.CustomerType = types.CustomerTypeRDP
		}
		return
	}

	sort.Slice(nonTambahan, func(i, j int) bool {
		if nonTambahan[i].RecordDate != nonTambahan[j].RecordDate {
			return nonTambahan[i].RecordDate < nonTambahan[j].RecordDate
		}
		return nonTambahan[i].InsertionSeq < nonTambahan[j].InsertionSeq
	})
	ndp := nonTambahan[0]

	for _, d := range group {
		if d.ID == ndp.ID {
			d.CustomerType = types.CustomerTypeNDP
		} else {
			d.CustomerType = types.CustomerTypeRDP
		}
	}
}
