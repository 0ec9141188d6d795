// Package scheduler implements the Scheduler (spec §4.J): a single-node
// in-process runner for three recurring jobs (daily report, reservation
// grace-period sweep, health-check), reconfigured on config change without
// mutating a running job.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/ldengine/pkg/aggregator"
	"github.com/cuemby/ldengine/pkg/config"
	"github.com/cuemby/ldengine/pkg/health"
	"github.com/cuemby/ldengine/pkg/log"
	"github.com/cuemby/ldengine/pkg/metrics"
	"github.com/cuemby/ldengine/pkg/registry"
	"github.com/rs/zerolog"
)

// jobDeadline is the deadline of the context each job run receives. The job
// bodies do not observe that context, so a run is not stopped at the
// deadline; a run that returns after it is counted as failed and logged.
const jobDeadline = 10 * time.Minute

// job is a named, independently-scheduled unit of recurring work. Jobs are
// value types: reconfiguring the Scheduler rebinds a fresh job rather than
// mutating one in flight (spec §9).
type job struct {
	name     string
	interval time.Duration
	runAt    func(now time.Time) bool
	run      func(ctx context.Context) error
	running  atomic.Bool
	stopCh   chan struct{}
}

// Scheduler runs the daily report, grace-period sweep, and health-check
// jobs on independent tickers, skipping a run that would overlap a prior
// one still in flight.
type Scheduler struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	registry *registry.Registry
	agg      *aggregator.Aggregator
	checker  *health.Checker
	jobs     []*job
	wg       sync.WaitGroup
}

// New builds a Scheduler. Call Update with the initial config to start the
// jobs; Update can be called again on every config reload.
func New(reg *registry.Registry, agg *aggregator.Aggregator, checker *health.Checker) *Scheduler {
	return &Scheduler{
		logger:   log.WithComponent("scheduler"),
		registry: reg,
		agg:      agg,
		checker:  checker,
	}
}

// Update stops all currently running jobs and rebinds fresh ones from cfg.
// Safe to call repeatedly, e.g. from a config.Store.OnReload callback.
func (s *Scheduler) Update(cfg *config.SchedulerConfig, defaultGraceDays int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	s.jobs = []*job{
		s.newDailyReportJob(cfg.DailyReportTime),
		s.newGraceSweepJob(time.Duration(cfg.GraceSweepIntervalHours)*time.Hour, defaultGraceDays),
		s.newHealthCheckJob(time.Duration(cfg.HealthCheckIntervalHours) * time.Hour),
	}
	for _, j := range s.jobs {
		s.startJob(j)
	}
}

// Stop halts every running job and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	for _, j := range s.jobs {
		close(j.stopCh)
	}
	s.jobs = nil
	s.wg.Wait()
}

func (s *Scheduler) startJob(j *job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if j.runAt != nil && !j.runAt(time.Now()) {
					continue
				}
				s.invoke(j)
			case <-j.stopCh:
				return
			}
		}
	}()
}

// invoke runs j.run once under a jobDeadline context, skipping if a prior
// run is still in flight.
func (s *Scheduler) invoke(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		metrics.SchedulerJobSkippedTotal.WithLabelValues(j.name).Inc()
		s.logger.Warn().Str("job", j.name).Msg("skipping run, prior run still in flight")
		return
	}
	defer j.running.Store(false)

	timer := metrics.NewTimer()
	ctx, cancel := context.WithTimeout(context.Background(), jobDeadline)
	defer cancel()

	err := j.run(ctx)
	timer.ObserveDurationVec(metrics.SchedulerJobDuration, j.name)

	if ctx.Err() == context.DeadlineExceeded {
		metrics.SchedulerJobFailedTotal.WithLabelValues(j.name).Inc()
		s.logger.Error().Str("job", j.name).Msg("job run finished after its deadline")
		return
	}
	if err != nil {
		metrics.SchedulerJobFailedTotal.WithLabelValues(j.name).Inc()
		s.logger.Error().Err(err).Str("job", j.name).Msg("job run failed")
		return
	}
	s.logger.Info().Str("job", j.name).Msg("job run completed")
}

// newDailyReportJob ticks every minute and fires once per day, on the tick
// whose local hour and minute equal dailyReportTime ("HH:MM"), rather than
// sleeping to an exact instant.
func (s *Scheduler) newDailyReportJob(dailyReportTime string) *job {
	target, err := time.Parse("15:04", dailyReportTime)
	if err != nil {
		target, _ = time.Parse("15:04", "01:00")
	}
	lastFired := ""
	return &job{
		name:     "daily_report",
		interval: time.Minute,
		stopCh:   make(chan struct{}),
		runAt: func(now time.Time) bool {
			if now.Hour() != target.Hour() || now.Minute() != target.Minute() {
				return false
			}
			today := now.Format("2006-01-02")
			if lastFired == today {
				return false
			}
			lastFired = today
			return true
		},
		run: func(ctx context.Context) error {
			_, err := s.agg.Generate(time.Now().AddDate(0, 0, -1).Format("2006-01-02"), "")
			return err
		},
	}
}

// newGraceSweepJob expires every reservation whose grace period has lapsed.
func (s *Scheduler) newGraceSweepJob(interval time.Duration, defaultGraceDays int) *job {
	return &job{
		name:     "grace_sweep",
		interval: interval,
		stopCh:   make(chan struct{}),
		run: func(ctx context.Context) error {
			candidates, err := s.registry.ExpireCandidates(time.Now().UTC(), defaultGraceDays)
			if err != nil {
				return err
			}
			for _, c := range candidates {
				if _, err := s.registry.Expire(c.ID); err != nil {
					s.logger.Error().Err(err).Str("reservation_id", c.ID).Msg("failed to expire reservation")
				}
			}
			return nil
		},
	}
}

// newHealthCheckJob runs a proactive Health & Repair sweep.
func (s *Scheduler) newHealthCheckJob(interval time.Duration) *job {
	return &job{
		name:     "health_check",
		interval: interval,
		stopCh:   make(chan struct{}),
		run: func(ctx context.Context) error {
			summary, err := s.checker.Repair()
			if err != nil {
				return err
			}
			s.logger.Info().Int("changed", summary.Changed).Int("findings", len(summary.Findings)).Msg("health-check repair sweep complete")
			return nil
		},
	}
}
