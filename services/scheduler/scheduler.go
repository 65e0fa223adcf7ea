// Package scheduler triggers the batch price update once a day.
package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"sjsage522/priceworker/internal/ledger"
	"sjsage522/priceworker/logger"
	"sjsage522/priceworker/services/lock"
	"sjsage522/priceworker/services/worker"
)

// ErrRunActive is returned when a run is already in flight here or elsewhere
var ErrRunActive = stderrors.New("a price update is already running")

// Runner executes one batch run
type Runner interface {
	RunOnce(ctx context.Context, today string) (*worker.Summary, error)
}

// Config holds the daily trigger time
type Config struct {
	Hour   int
	Minute int
	// ScheduleLocation is the zone Hour:Minute is expressed in
	ScheduleLocation *time.Location
	// LedgerLocation decides which calendar day a run records under
	LedgerLocation *time.Location
	LockTTL        time.Duration
}

// Status is the operational view of the scheduler
type Status struct {
	Running     bool            `json:"running"`
	Active      bool            `json:"active"`
	NextRun     *time.Time      `json:"next_run,omitempty"`
	LastRun     *time.Time      `json:"last_run,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	LastSummary *worker.Summary `json:"last_summary,omitempty"`
}

// Scheduler runs the job at a fixed time each day. At most one run is in
// flight: locally through the active flag and across instances through the lock.
type Scheduler struct {
	runner Runner
	locker lock.Locker
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time

	active atomic.Bool

	mu          sync.Mutex
	baseCtx     context.Context
	running     bool
	nextRun     time.Time
	lastRun     time.Time
	lastError   string
	lastSummary *worker.Summary
	wg          sync.WaitGroup
}

// New creates a scheduler
func New(runner Runner, locker lock.Locker, cfg Config) *Scheduler {
	if cfg.ScheduleLocation == nil {
		cfg.ScheduleLocation = time.UTC
	}
	if cfg.LedgerLocation == nil {
		cfg.LedgerLocation = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Hour
	}
	return &Scheduler{
		runner:  runner,
		locker:  locker,
		cfg:     cfg,
		log:     logger.ForScheduler(),
		now:     time.Now,
		after:   time.After,
		baseCtx: context.Background(),
	}
}

// NextRun returns the first hour:minute in loc strictly after now
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Today returns the ledger date for the current instant
func (s *Scheduler) Today() string {
	return s.now().In(s.cfg.LedgerLocation).Format(ledger.DateLayout)
}

// Start blocks, firing a run at every scheduled time until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.nextRun = time.Time{}
		s.mu.Unlock()
	}()

	for {
		next := NextRun(s.now(), s.cfg.Hour, s.cfg.Minute, s.cfg.ScheduleLocation)
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()
		s.log.Info().Time("next_run", next).Msg("Next price update scheduled")

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(s.now())):
		}

		if _, err := s.RunNow(ctx); stderrors.Is(err, ErrRunActive) {
			s.log.Warn().Msg("Skipping scheduled price update, a run is already active")
		}
	}
}

// RunNow runs the job synchronously
func (s *Scheduler) RunNow(ctx context.Context) (*worker.Summary, error) {
	if !s.active.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	return s.execute(ctx)
}

// Trigger starts a run in the background and returns immediately
func (s *Scheduler) Trigger() error {
	if !s.active.CompareAndSwap(false, true) {
		return ErrRunActive
	}
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx)
	}()
	return nil
}

// Wait blocks until background runs started by Trigger finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// execute runs with the active flag already held
func (s *Scheduler) execute(ctx context.Context) (*worker.Summary, error) {
	defer s.active.Store(false)

	release, err := s.locker.Acquire(ctx, s.cfg.LockTTL)
	if err != nil {
		if stderrors.Is(err, lock.ErrHeld) {
			return nil, ErrRunActive
		}
		s.log.Error().Err(err).Msg("Failed to acquire run lock")
		return nil, err
	}
	defer release()

	today := s.Today()
	s.log.Info().Str("date", today).Msg("Running price update")
	summary, err := s.runner.RunOnce(ctx, today)

	s.mu.Lock()
	s.lastRun = s.now()
	s.lastSummary = summary
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("date", today).Msg("Price update failed")
	}
	return summary, err
}

// Status reports whether the loop is running, whether a run is active and
// when the next one fires
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:     s.running,
		Active:      s.active.Load(),
		LastError:   s.lastError,
		LastSummary: s.lastSummary,
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		status.NextRun = &next
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		status.LastRun = &last
	}
	return status
}
