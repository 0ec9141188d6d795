// Package normalize implements the Identifier Normalizer (spec §4.A): it
// canonicalizes customer identifiers and scans heterogeneous row data for
// matches against a reservation's key set. It is pure — no suspension
// points, no I/O.
//
// Ported from the original system's reserved_check.py, which was the single
// source of truth for this check: identifiers are added from BOTH
// customer_id and customer_name (using only one was "the ROOT CAUSE of the
// recurring bug where reserved customers could be assigned to wrong staff"),
// and matching is field-agnostic across every value in row_data because
// uploaded columns are caller-defined (Username, NAMA, user, ...).
package normalize

import (
	"strings"

	"github.com/cuemby/ldengine/pkg/types"
)

// ID canonicalizes a single identifier value: trims surrounding whitespace
// and uppercases. Empty or whitespace-only input normalizes to "".
func ID(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

// ReservationKeys returns the set of normalized non-empty values among a
// reservation's customer_id and customer_name slots.
func ReservationKeys(customerID, customerName string) map[string]struct{} {
	keys := make(map[string]struct{}, 2)
	if v := ID(customerID); v != "" {
		keys[v] = struct{}{}
	}
	if v := ID(customerName); v != "" {
		keys[v] = struct{}{}
	}
	return keys
}

// RecordKeys returns the set of normalized non-empty string values across
// every entry of a record's row_data. Column labels are irrelevant.
func RecordKeys(rowData map[string]string) map[string]struct{} {
	keys := make(map[string]struct{}, len(rowData))
	for _, v := range rowData {
		if n := ID(v); n != "" {
			keys[n] = struct{}{}
		}
	}
	return keys
}

// Intersects reports whether two normalized key sets share at least one
// element.
func Intersects(a, b map[string]struct{}) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}

// MatchesReservation reports whether a record matches a reservation: any
// value in the record's row matches any key in the reservation's key set.
func MatchesReservation(rowData map[string]string, reservationKeys map[string]struct{}) bool {
	if len(reservationKeys) == 0 {
		return false
	}
	for _, v := range rowData {
		n := ID(v)
		if n == "" {
			continue
		}
		if _, ok := reservationKeys[n]; ok {
			return true
		}
	}
	return false
}

// MatchesRecord is a convenience wrapper over MatchesReservation for callers
// holding a *types.Record.
func MatchesRecord(r *types.Record, reservationKeys map[string]struct{}) bool {
	if r == nil {
		return false
	}
	return MatchesReservation(r.RowData, reservationKeys)
}
