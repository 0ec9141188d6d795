// Package aggregator implements the Daily Aggregator (spec §4.I): assembles
// per-day staff and product breakdowns, enforcing the Σstaff = Σproduct
// invariant for unique-customer (NDP/RDP) metrics via a global dedup set.
package aggregator

import (
	"sort"
	"time"

	"github.com/cuemby/ldengine/pkg/apperr"
	"github.com/cuemby/ldengine/pkg/ledger"
	"github.com/cuemby/ldengine/pkg/metrics"
	"github.com/cuemby/ldengine/pkg/normalize"
	"github.com/cuemby/ldengine/pkg/types"
)

// Aggregator is the Daily Aggregator.
type Aggregator struct {
	ledger *ledger.Ledger
}

// New builds an Aggregator reading deposits through ledger.
func New(ledger *ledger.Ledger) *Aggregator {
	return &Aggregator{ledger: ledger}
}

// dedupKey is the (staff, normalized customer) pair the Σstaff = Σproduct
// invariant is scoped to (spec §4.I).
type dedupKey struct {
	staffID  string
	customer string
}

// Generate produces the report for date, optionally filtered to one
// product. Deposits are iterated in a stable order (insertion_seq
// ascending) so the dedup pass is deterministic.
func (a *Aggregator) Generate(date string, productFilter string) (*types.DailyReport, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DailyReportDuration)

	deposits, err := a.ledger.ListByDate(date)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list deposits for daily report", err)
	}

	sort.Slice(deposits, func(i, j int) bool { return deposits[i].InsertionSeq < deposits[j].InsertionSeq })

	staffBreakdown := make(map[string]*types.DailyStaffBreakdown)
	productBreakdown := make(map[string]*types.DailyProductBreakdown)
	ndpSeen := make(map[dedupKey]struct{})
	rdpSeen := make(map[dedupKey]struct{})

	for _, d := range deposits {
		if productFilter != "" && d.ProductID != productFilter {
			continue
		}

		staff := staffEntry(staffBreakdown, d.StaffID)
		product := productEntry(productBreakdown, d.ProductID)

		staff.TotalForms++
		product.TotalForms++
		staff.NominalTotal += d.Nominal
		product.NominalTotal += d.Nominal

		// A (staff, customer) pair counts in at most one bucket per day: the
		// first classified deposit seen for the pair decides NDP or RDP.
		key := dedupKey{staffID: d.StaffID, customer: normalize.ID(d.CustomerID)}
		_, inNDP := ndpSeen[key]
		_, inRDP := rdpSeen[key]
		if inNDP || inRDP {
			continue
		}
		switch d.CustomerType {
		case types.CustomerTypeNDP:
			ndpSeen[key] = struct{}{}
			staff.NDP++
			product.NDP++
		case types.CustomerTypeRDP:
			rdpSeen[key] = struct{}{}
			staff.RDP++
			product.RDP++
		}
	}

	report := &types.DailyReport{
		Date:             date,
		ProductFilter:    productFilter,
		StaffBreakdown:   flattenStaff(staffBreakdown),
		ProductBreakdown: flattenProduct(productBreakdown),
		GeneratedAt:      time.Now().UTC(),
	}
	return report, nil
}

func staffEntry(m map[string]*types.DailyStaffBreakdown, staffID string) *types.DailyStaffBreakdown {
	entry, ok := m[staffID]
	if !ok {
		entry = &types.DailyStaffBreakdown{StaffID: staffID}
		m[staffID] = entry
	}
	return entry
}

func productEntry(m map[string]*types.DailyProductBreakdown, productID string) *types.DailyProductBreakdown {
	entry, ok := m[productID]
	if !ok {
		entry = &types.DailyProductBreakdown{ProductID: productID}
		m[productID] = entry
	}
	return entry
}

func flattenStaff(m map[string]*types.DailyStaffBreakdown) []types.DailyStaffBreakdown {
	out := make([]types.DailyStaffBreakdown, 0, len(m))
	for _, v := range m {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StaffID < out[j].StaffID })
	return out
}

func flattenProduct(m map[string]*types.DailyProductBreakdown) []types.DailyProductBreakdown {
	out := make([]types.DailyProductBreakdown, 0, len(m))
	for _, v := range m {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
