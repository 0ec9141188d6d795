/*
Package metrics defines and registers the engine's Prometheus metrics:
record counts by collection/status, resolver scan duration and mutation
counts, reservation activation/expiry counters, assignment duration and
exhaustion counts, download-request outcome counts, deposit write and
classifier-recompute counters/histograms, daily-report duration, scheduler
job duration/skip/failure counters, and repair run/change counters.

All metrics are registered at package init via prometheus.MustRegister;
Handler returns the promhttp handler for exposition. Timer is a small
helper for observing elapsed time into a histogram, used the same way
across every timed operation in the engine:

	timer := metrics.NewTimer()
	// ... do the operation ...
	timer.ObserveDurationVec(metrics.AssignmentDuration, "assign_random")

Collector periodically samples store-derived gauges (current record and
reservation counts by status) that no single write path is well-placed to
maintain incrementally; counters and histograms are instead updated inline
by the component performing the operation.

The generic HTTP liveness/readiness checker the teacher carried in this
package is not reproduced here — health in this domain means the five
cross-collection diagnostics of pkg/health (§4.K), not process liveness,
and HTTP transport is out of scope (spec §1 Non-goals).
*/
package metrics
