// Package health implements Health & Repair (spec §4.K): cross-collection
// consistency diagnostics over the Record Store, database descriptors, and
// approved reservations, plus an idempotent repair that heals what it finds.
// Deposits are not examined.
package health

import (
	"time"

	"github.com/cuemby/ldengine/pkg/apperr"
	"github.com/cuemby/ldengine/pkg/normalize"
	"github.com/cuemby/ldengine/pkg/resolver"
	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
)

// StaffDirectory is the narrow external collaborator Health & Repair
// consults for diagnostic 2 (invalid records assigned to a staff member who
// no longer exists). Staff identity is owned outside this engine (spec §1
// Non-goals: authentication). A nil StaffDirectory disables that one
// diagnostic rather than failing the whole sweep.
type StaffDirectory interface {
	Exists(staffID string) (bool, error)
}

// DiagnosticKind names one of the five cross-collection checks.
type DiagnosticKind string

const (
	DiagMissingDatabase    DiagnosticKind = "MISSING_DATABASE"
	DiagOrphanedStaff      DiagnosticKind = "ORPHANED_STAFF"
	DiagStaleReserved      DiagnosticKind = "STALE_RESERVED"
	DiagShouldBeReserved   DiagnosticKind = "SHOULD_BE_RESERVED"
	DiagBatchCountMismatch DiagnosticKind = "BATCH_COUNT_MISMATCH"
)

// Finding is one instance of a diagnostic.
type Finding struct {
	Kind       DiagnosticKind   `json:"kind"`
	Collection types.Collection `json:"collection,omitempty"`
	RecordID   string           `json:"record_id,omitempty"`
	DatabaseID string           `json:"database_id,omitempty"`
	Detail     string           `json:"detail"`
}

// Summary is the result of one repair run: what was found and, for a
// repair (not a dry-run diagnose), what was actually changed.
type Summary struct {
	Findings   []Finding `json:"findings"`
	Changed    int       `json:"changed"`
	RanAt      time.Time `json:"ran_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Checker runs diagnostics and repair.
type Checker struct {
	store    storage.Store
	resolver *resolver.Resolver
	staff    StaffDirectory
}

// New builds a Checker. staff may be nil, disabling the orphaned-staff
// diagnostic.
func New(store storage.Store, resolver *resolver.Resolver, staff StaffDirectory) *Checker {
	return &Checker{store: store, resolver: resolver, staff: staff}
}

// Diagnose runs all five diagnostics and returns what it found, without
// writing anything.
func (c *Checker) Diagnose() ([]Finding, error) {
	var findings []Finding

	databases, err := c.store.ListDatabases()
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list databases", err)
	}
	databaseExists := make(map[string]bool, len(databases))
	databaseRecordCount := make(map[string]int, len(databases))
	for _, d := range databases {
		databaseExists[d.ID] = true
	}

	approved, err := c.store.ListReservationsByStatus(types.ReservationApproved)
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "failed to list approved reservations", err)
	}
	reservationKeys := make(map[string]struct{})
	for _, r := range approved {
		for key := range normalize.ReservationKeys(r.CustomerID, r.CustomerName) {
			reservationKeys[key] = struct{}{}
		}
	}

	for _, collection := range types.Collections() {
		records, err := c.store.ListRecords(collection)
		if err != nil {
			return nil, apperr.Wrap(apperr.Dependency, "failed to list records", err)
		}
		for _, rec := range records {
			databaseRecordCount[rec.DatabaseID]++

			if !databaseExists[rec.DatabaseID] {
				findings = append(findings, Finding{Kind: DiagMissingDatabase, Collection: collection, RecordID: rec.ID, DatabaseID: rec.DatabaseID, Detail: "record references a database that no longer exists"})
			}

			if rec.Status == types.RecordInvalid && rec.AssignedTo != "" && c.staff != nil {
				exists, err := c.staff.Exists(rec.AssignedTo)
				if err != nil {
					return nil, apperr.Wrap(apperr.Dependency, "failed to check staff existence", err)
				}
				if !exists {
					findings = append(findings, Finding{Kind: DiagOrphanedStaff, Collection: collection, RecordID: rec.ID, Detail: "invalid record assigned to a staff member that no longer exists"})
				}
			}

			matches := normalize.MatchesRecord(rec, reservationKeys)
			if rec.Status == types.RecordReserved && !matches {
				findings = append(findings, Finding{Kind: DiagStaleReserved, Collection: collection, RecordID: rec.ID, Detail: "reserved record no longer matches any approved reservation"})
			}
			if rec.Status == types.RecordAvailable && matches {
				findings = append(findings, Finding{Kind: DiagShouldBeReserved, Collection: collection, RecordID: rec.ID, Detail: "available record matches an approved reservation"})
			}
		}
	}

	for _, d := range databases {
		if d.TotalRecords != databaseRecordCount[d.ID] {
			findings = append(findings, Finding{Kind: DiagBatchCountMismatch, DatabaseID: d.ID, Detail: "database total_records does not match actual stored record count"})
		}
	}

	return findings, nil
}

// Repair runs diagnostics, then heals what it can: a Conflict Resolver
// full-resync (covers the reserved/available diagnostics and the assigned-
// vs-invalid transition) plus a database record-count recomputation.
// Idempotent: running it twice in a row with no intervening mutation
// produces a Summary with Changed == 0 on the second run.
func (c *Checker) Repair() (*Summary, error) {
	start := time.Now().UTC()

	findings, err := c.Diagnose()
	if err != nil {
		return nil, err
	}

	resyncChanged, err := c.resolver.FullResync()
	if err != nil {
		return nil, apperr.Wrap(apperr.Dependency, "full-resync failed during repair", err)
	}

	countsChanged, err := c.repairBatchCounts()
	if err != nil {
		return nil, err
	}

	return &Summary{
		Findings:   findings,
		Changed:    resyncChanged + countsChanged,
		RanAt:      start,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func (c *Checker) repairBatchCounts() (int, error) {
	databases, err := c.store.ListDatabases()
	if err != nil {
		return 0, apperr.Wrap(apperr.Dependency, "failed to list databases", err)
	}

	actual := make(map[string]int, len(databases))
	for _, collection := range types.Collections() {
		records, err := c.store.ListRecords(collection)
		if err != nil {
			return 0, apperr.Wrap(apperr.Dependency, "failed to list records", err)
		}
		for _, rec := range records {
			actual[rec.DatabaseID]++
		}
	}

	changed := 0
	for _, d := range databases {
		if d.TotalRecords != actual[d.ID] {
			d.TotalRecords = actual[d.ID]
			if err := c.store.UpdateDatabase(d); err != nil {
				return changed, apperr.Wrap(apperr.Dependency, "failed to update database record count", err)
			}
			changed++
		}
	}
	return changed, nil
}
