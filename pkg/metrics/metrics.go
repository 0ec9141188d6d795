package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Record Store / Conflict Resolver metrics
	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_records_total",
			Help: "Total number of records by collection and status",
		},
		[]string{"collection", "status"},
	)

	ResolverScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_resolver_scan_duration_seconds",
			Help:    "Time taken for a Conflict Resolver scan (on-add/on-remove/full-resync)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entrypoint"},
	)

	ResolverMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_resolver_mutations_total",
			Help: "Total number of record status mutations applied by the Conflict Resolver",
		},
		[]string{"entrypoint", "transition"},
	)

	// Reservation Registry metrics
	ReservationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_reservations_total",
			Help: "Total number of reservations by status",
		},
		[]string{"status"},
	)

	ReservationsActivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_reservations_activated_total",
			Help: "Total number of reservations that transitioned to approved",
		},
	)

	ReservationsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_reservations_expired_total",
			Help: "Total number of reservations expired by the grace-period sweep",
		},
	)

	// Assignment Engine metrics
	AssignmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_assignment_duration_seconds",
			Help:    "Time taken to execute an assignment operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RecordsExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_records_exhausted_total",
			Help: "Total number of assignment requests that could not be fully satisfied",
		},
	)

	// Download-Request Workflow metrics
	DownloadRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_download_requests_total",
			Help: "Total number of download requests by resulting status",
		},
		[]string{"status"},
	)

	// Deposit Ledger / Classifier metrics
	DepositsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_deposits_total",
			Help: "Total number of deposit writes by operation",
		},
		[]string{"operation"},
	)

	ClassifierRecomputationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_classifier_recomputations_total",
			Help: "Total number of NDP/RDP recompute-key classification passes",
		},
	)

	ClassifierRecomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_classifier_recompute_duration_seconds",
			Help:    "Time taken for one recompute-key classification pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Daily Aggregator metrics
	DailyReportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_daily_report_duration_seconds",
			Help:    "Time taken to assemble a daily report",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics
	SchedulerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_scheduler_job_duration_seconds",
			Help:    "Time taken for a scheduler job run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	SchedulerJobSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_scheduler_job_skipped_total",
			Help: "Total number of scheduler job runs skipped because the prior run was still in flight",
		},
		[]string{"job"},
	)

	SchedulerJobFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_scheduler_job_failed_total",
			Help: "Total number of scheduler job runs that returned an error or hit their deadline",
		},
		[]string{"job"},
	)

	// Health & Repair metrics
	RepairRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_repair_runs_total",
			Help: "Total number of repair sweeps executed",
		},
	)

	RepairChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_repair_changes_total",
			Help: "Total number of corrections applied by a repair sweep, by diagnostic",
		},
		[]string{"diagnostic"},
	)
)

func init() {
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(ResolverScanDuration)
	prometheus.MustRegister(ResolverMutationsTotal)
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(ReservationsActivatedTotal)
	prometheus.MustRegister(ReservationsExpiredTotal)
	prometheus.MustRegister(AssignmentDuration)
	prometheus.MustRegister(RecordsExhaustedTotal)
	prometheus.MustRegister(DownloadRequestsTotal)
	prometheus.MustRegister(DepositsTotal)
	prometheus.MustRegister(ClassifierRecomputationsTotal)
	prometheus.MustRegister(ClassifierRecomputeDuration)
	prometheus.MustRegister(DailyReportDuration)
	prometheus.MustRegister(SchedulerJobDuration)
	prometheus.MustRegister(SchedulerJobSkippedTotal)
	prometheus.MustRegister(SchedulerJobFailedTotal)
	prometheus.MustRegister(RepairRunsTotal)
	prometheus.MustRegister(RepairChangesTotal)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
