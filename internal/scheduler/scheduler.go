package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/weather-radar/internal/radar"
)

var errInvalidInterval = errors.New("scheduler interval must be positive")

// CycleRunner runs one pipeline cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) radar.CycleOutcome
}

// Scheduler runs the radar pipeline once immediately and then on a fixed
// interval. At most one cycle is in flight at any time.
type Scheduler struct {
	mu        sync.Mutex
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc

	runner   CycleRunner
	interval time.Duration
	log      *zap.Logger
}

// New creates a new Scheduler.
func New(runner CycleRunner, interval time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		log:      log.Named("scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// Calling Start while the scheduler is running is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		s.log.Debug("scheduler already running; ignoring start")
		return nil
	}
	if s.interval <= 0 {
		return errInvalidInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := gocron.NewScheduler(time.UTC)

	// A tick that fires while a cycle is running is dropped, never queued.
	sched.SetMaxConcurrentJobs(1, gocron.RescheduleMode)

	// gocron runs new jobs immediately, so the first cycle does not wait a
	// full interval.
	var busy atomic.Bool
	_, err := sched.Every(s.interval).Do(func() {
		if ctx.Err() != nil {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			s.log.Debug("cycle still running; skipping tick")
			return
		}
		defer busy.Store(false)
		s.runner.RunCycle(ctx)
	})
	if err != nil {
		cancel()
		return err
	}

	sched.StartAsync()
	s.scheduler = sched
	s.cancel = cancel

	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler != nil
}

// Stop cancels any in-flight wait and prevents further cycles. The cached
// snapshot is left as it is.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	sched, cancel := s.scheduler, s.cancel
	s.scheduler, s.cancel = nil, nil
	s.mu.Unlock()

	if sched == nil {
		return
	}
	cancel()
	sched.Stop()
	s.log.Info("scheduler stopped")
}
