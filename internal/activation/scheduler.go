package activation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Scheduler calls tick repeatedly until stopped. Stop cancels the context
// passed to tick and waits for the current call to return.
type Scheduler interface {
	Start(tick func(ctx context.Context)) error
	Stop()
}

// runner holds the start/stop bookkeeping shared by both schedulers.
type runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (r *runner) start(loop func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		loop(ctx)
	}()
	return nil
}

func (r *runner) stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

// TimerScheduler fires tick on a fixed period. A tick that comes due while
// the previous call is still running is skipped.
type TimerScheduler struct {
	interval time.Duration
	runner
	busy    atomic.Bool
	skipped atomic.Uint64
}

// NewTimerScheduler creates a TimerScheduler with the given period.
func NewTimerScheduler(interval time.Duration) *TimerScheduler {
	return &TimerScheduler{interval: interval}
}

// Start begins ticking.
func (s *TimerScheduler) Start(tick func(ctx context.Context)) error {
	return s.start(func(ctx context.Context) {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		var inflight sync.WaitGroup
		defer inflight.Wait()

		for {
			select {
			case <-ticker.C:
				if !s.busy.CompareAndSwap(false, true) {
					s.skipped.Add(1)
					continue
				}
				inflight.Add(1)
				go func() {
					defer inflight.Done()
					defer s.busy.Store(false)
					tick(ctx)
				}()
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop cancels ticking and waits for an in-flight tick.
func (s *TimerScheduler) Stop() {
	s.stop()
}

// Skipped returns how many ticks were dropped because the previous one was
// still running.
func (s *TimerScheduler) Skipped() uint64 {
	return s.skipped.Load()
}

// TaskScheduler runs tick in a loop on one goroutine, sleeping whatever is
// left of the interval after each call. A zero interval runs back to back.
type TaskScheduler struct {
	interval time.Duration
	runner
}

// NewTaskScheduler creates a TaskScheduler.
func NewTaskScheduler(interval time.Duration) *TaskScheduler {
	return &TaskScheduler{interval: interval}
}

// Start launches the loop.
func (s *TaskScheduler) Start(tick func(ctx context.Context)) error {
	return s.start(func(ctx context.Context) {
		for ctx.Err() == nil {
			started := time.Now()
			tick(ctx)

			remaining := s.interval - time.Since(started)
			if remaining <= 0 {
				continue
			}
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	})
}

// Stop cancels the loop and waits for it to exit.
func (s *TaskScheduler) Stop() {
	s.stop()
}
