// Package scheduler owns the two recurring job families: a daily digest
// fire at a fixed local time and a ten-minute realtime poll gated by quiet
// hours. Job identity is deterministic (daily:<watch-id>, realtime:<watch-id>),
// registration is guarded by one lock, and jobs execute outside it on a
// bounded worker pool. Missed fires are dropped, never replayed.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mandi-monitor/monitor/types"
	metrics "mandi-monitor/pkg/telemetry"
)

const digestJobID = "digest:flush"

// Runner executes evaluation work on behalf of the scheduler.
type Runner interface {
	EvaluateWatch(ctx context.Context, w types.Watch) error
	FlushDigests(ctx context.Context) error
}

// Config carries the scheduler's firing parameters.
type Config struct {
	DailyAt       string // "HH:MM" local
	WakeStart     string // realtime fires from here...
	WakeEnd       string // ...until here; outside is quiet hours
	RealtimeEvery time.Duration
	JobTimeout    time.Duration
	Workers       int
	Location      *time.Location
}

// digestLag separates the per-watch daily evaluations from the digest
// flush that ranks and sends them.
const digestLag = 5 * time.Minute

type job struct {
	id     string
	cancel context.CancelFunc
}

type Scheduler struct {
	logger zerolog.Logger
	cfg    Config
	runner Runner

	rootCtx context.Context
	sem     chan struct{}

	mtx  sync.Mutex
	jobs map[string]*job
}

func New(ctx context.Context, logger zerolog.Logger, cfg Config, runner Runner) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	return &Scheduler{
		logger:  logger.With().Str("module", "scheduler").Logger(),
		cfg:     cfg,
		runner:  runner,
		rootCtx: ctx,
		sem:     make(chan struct{}, workers),
		jobs:    make(map[string]*job),
	}
}

// JobID returns the deterministic identity for a watch's job.
func JobID(mode types.Mode, watchID int64) string {
	return fmt.Sprintf("%s:%d", mode, watchID)
}

// Register adds the job for the watch's mode. Registering an already
// registered job replaces it.
func (s *Scheduler) Register(w types.Watch) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.registerLocked(w)
}

// Deregister removes both possible jobs for the watch.
func (s *Scheduler) Deregister(watchID int64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.deregisterLocked(watchID)
}

// SwapMode atomically deregisters the watch's old job and registers the one
// for its current mode.
func (s *Scheduler) SwapMode(w types.Watch) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.deregisterLocked(w.ID)
	s.registerLocked(w)
}

// StartDigestFlush registers the single digest job, firing shortly after
// the daily time so every daily evaluation has landed first.
func (s *Scheduler) StartDigestFlush() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if old, ok := s.jobs[digestJobID]; ok {
		old.cancel()
	}
	jobCtx, cancel := context.WithCancel(s.rootCtx)
	s.jobs[digestJobID] = &job{id: digestJobID, cancel: cancel}
	go s.dailyLoop(jobCtx, digestJobID, digestLag, func(ctx context.Context) error {
		return s.runner.FlushDigests(ctx)
	})
}

// RunOnce dispatches a single evaluation of the watch onto the worker pool,
// outside any job loop. The inbound path uses it for a fresh watch's first
// evaluation so the caller never blocks on remote work.
func (s *Scheduler) RunOnce(w types.Watch) {
	go s.execute(s.rootCtx, JobID(w.Mode, w.ID), func(ctx context.Context) error {
		return s.runner.EvaluateWatch(ctx, w)
	})
}

// Jobs returns the registered job IDs, for inspection.
func (s *Scheduler) Jobs() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) registerLocked(w types.Watch) {
	id := JobID(w.Mode, w.ID)
	if old, ok := s.jobs[id]; ok {
		old.cancel()
	}
	jobCtx, cancel := context.WithCancel(s.rootCtx)
	s.jobs[id] = &job{id: id, cancel: cancel}

	run := func(ctx context.Context) error {
		return s.runner.EvaluateWatch(ctx, w)
	}
	switch w.Mode {
	case types.ModeDaily:
		go s.dailyLoop(jobCtx, id, 0, run)
	case types.ModeRealtime:
		go s.realtimeLoop(jobCtx, id, run)
	}
	s.logger.Info().Str("job", id).Msg("job registered")
}

func (s *Scheduler) deregisterLocked(watchID int64) {
	for _, mode := range []types.Mode{types.ModeDaily, types.ModeRealtime} {
		id := JobID(mode, watchID)
		if j, ok := s.jobs[id]; ok {
			j.cancel()
			delete(s.jobs, id)
			s.logger.Info().Str("job", id).Msg("job deregistered")
		}
	}
}

// dailyLoop fires once per day at the configured local time plus offset.
// The next fire is always computed from the current clock, so fires missed
// while the process was down are simply not replayed.
func (s *Scheduler) dailyLoop(ctx context.Context, id string, offset time.Duration, run func(context.Context) error) {
	for {
		next := s.nextDaily(time.Now().In(s.cfg.Location)).Add(offset)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, id, run)
		}
	}
}

// realtimeLoop fires on a fixed interval but skips ticks outside the wake
// window. Skipped ticks are not queued for catch-up.
func (s *Scheduler) realtimeLoop(ctx context.Context, id string, run func(context.Context) error) {
	ticker := time.NewTicker(s.cfg.RealtimeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().In(s.cfg.Location)
			if !s.Awake(now) {
				metrics.IncrCounter(1, "scheduler", "skipped", "quiet_hours")
				s.logger.Debug().Str("job", id).Msg("quiet hours, skipping tick")
				continue
			}
			s.execute(ctx, id, run)
		}
	}
}

// execute runs one fire under the worker semaphore and the job deadline.
// Fires of the same job are serialised by construction: each job loop runs
// them inline.
func (s *Scheduler) execute(ctx context.Context, id string, run func(context.Context) error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	s.logger.Debug().Str("job", id).Msg("job running")
	err := run(runCtx)
	metrics.MeasureSince([]string{"scheduler", "run"}, start)

	switch {
	case err == nil:
		metrics.IncrCounter(1, "scheduler", "completed")
	case runCtx.Err() == context.DeadlineExceeded:
		metrics.IncrCounter(1, "scheduler", "cancelled")
		s.logger.Error().Str("job", id).Dur("elapsed", time.Since(start)).Msg("job exceeded deadline, cancelled")
	default:
		metrics.IncrCounter(1, "scheduler", "failed")
		s.logger.Error().Err(err).Str("job", id).Msg("job failed")
	}
}

// nextDaily returns the next occurrence of the configured daily time
// strictly after now.
func (s *Scheduler) nextDaily(now time.Time) time.Time {
	hh, mm := mustClock(s.cfg.DailyAt)
	next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, s.cfg.Location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Awake reports whether t falls inside the wake window [WakeStart, WakeEnd).
func (s *Scheduler) Awake(t time.Time) bool {
	startH, startM := mustClock(s.cfg.WakeStart)
	endH, endM := mustClock(s.cfg.WakeEnd)
	minute := t.Hour()*60 + t.Minute()
	return minute >= startH*60+startM && minute < endH*60+endM
}

// mustClock parses "HH:MM"; config validation guarantees the format.
func mustClock(v string) (int, int) {
	var hh, mm int
	fmt.Sscanf(v, "%d:%d", &hh, &mm)
	return hh, mm
}
