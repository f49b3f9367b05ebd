package activation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/relay"
	"github.com/smazurov/sinkcam/internal/synthetic"
)

type fakeRelay struct {
	active      atomic.Bool
	activates   atomic.Int32
	deactivates atomic.Int32
	pumps       atomic.Int32
}

func (f *fakeRelay) Activate() {
	f.activates.Add(1)
	f.active.Store(true)
}

func (f *fakeRelay) Deactivate() {
	f.deactivates.Add(1)
	f.active.Store(false)
}

func (f *fakeRelay) Pump(context.Context) relay.Outcome {
	f.pumps.Add(1)
	return relay.OutcomeSynthetic
}

func newController(r Pumper, s Scheduler, opts ...Option) *Controller {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(r, s, opts...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFirstObserverStartsLastStops(t *testing.T) {
	r := &fakeRelay{}
	c := newController(r, NewTimerScheduler(time.Millisecond))

	if err := c.StartObserving(); err != nil {
		t.Fatal(err)
	}
	if err := c.StartObserving(); err != nil {
		t.Fatal(err)
	}
	if !r.active.Load() || !c.Running() {
		t.Fatal("relay should be active after the first observer")
	}
	if r.activates.Load() != 1 {
		t.Errorf("Activate called %d times, want 1", r.activates.Load())
	}
	waitFor(t, func() bool { return r.pumps.Load() > 0 })

	if err := c.StopObserving(); err != nil {
		t.Fatal(err)
	}
	if !c.Running() {
		t.Error("relay should keep running while an observer remains")
	}
	if err := c.StopObserving(); err != nil {
		t.Fatal(err)
	}
	if r.active.Load() || c.Running() {
		t.Error("relay should stop after the last observer")
	}

	pumps := r.pumps.Load()
	time.Sleep(10 * time.Millisecond)
	if r.pumps.Load() != pumps {
		t.Error("pump must not run after stop returns")
	}
}

func TestStopWithoutObservers(t *testing.T) {
	c := newController(&fakeRelay{}, NewTaskScheduler(time.Millisecond))
	if err := c.StopObserving(); !errors.Is(err, ErrNotObserving) {
		t.Errorf("expected ErrNotObserving, got %v", err)
	}
	if c.Observers() != 0 {
		t.Errorf("Observers() = %d, want 0", c.Observers())
	}
}

func TestConcurrentStartStopIsIdempotent(t *testing.T) {
	r := &fakeRelay{}
	c := newController(r, NewTaskScheduler(time.Millisecond))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if err := c.StartObserving(); err != nil {
					t.Error(err)
					return
				}
				if err := c.StopObserving(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if c.Observers() != 0 || c.Running() {
		t.Fatalf("observers = %d running = %v, want 0 false", c.Observers(), c.Running())
	}
	if c.Starts() != c.Stops() {
		t.Errorf("starts %d != stops %d", c.Starts(), c.Stops())
	}
	if int32(c.Starts()) != r.activates.Load() || int32(c.Stops()) != r.deactivates.Load() {
		t.Error("relay activations do not match controller transitions")
	}
	if r.active.Load() {
		t.Error("relay left active")
	}
}

type failingScheduler struct{}

func (failingScheduler) Start(func(context.Context)) error { return ErrAlreadyRunning }
func (failingScheduler) Stop()                             {}

func TestSchedulerStartFailureRollsBack(t *testing.T) {
	r := &fakeRelay{}
	c := newController(r, failingScheduler{})

	if err := c.StartObserving(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if c.Observers() != 0 || c.Running() || r.active.Load() {
		t.Error("failed start should leave the controller idle")
	}
}

func TestObserverEventsPublished(t *testing.T) {
	bus := events.New()
	ch := make(chan events.ObserversChangedEvent, 4)
	unsub := bus.Subscribe(func(e events.ObserversChangedEvent) { ch <- e })
	defer unsub()

	c := newController(&fakeRelay{}, NewTimerScheduler(time.Millisecond), WithEventBus(bus))
	if err := c.StartObserving(); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	select {
	case e := <-ch:
		if e.Observers != 1 || !e.Running {
			t.Errorf("event = %+v, want 1 observer running", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no observer event")
	}
}

func TestCloseStopsRegardlessOfCount(t *testing.T) {
	r := &fakeRelay{}
	c := newController(r, NewTimerScheduler(time.Millisecond))
	for range 3 {
		if err := c.StartObserving(); err != nil {
			t.Fatal(err)
		}
	}
	c.Close()
	if c.Running() || c.Observers() != 0 || r.active.Load() {
		t.Error("Close should stop the relay")
	}
}

func TestTimerSchedulerSkipsOverlappingTicks(t *testing.T) {
	s := NewTimerScheduler(time.Millisecond)
	var calls atomic.Int32
	release := make(chan struct{})

	if err := s.Start(func(ctx context.Context) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return s.Skipped() >= 3 })
	if calls.Load() != 1 {
		t.Errorf("tick ran %d times while blocked, want 1", calls.Load())
	}
	close(release)
	s.Stop()
}

func TestSchedulerDoubleStart(t *testing.T) {
	for name, s := range map[string]Scheduler{
		"timer": NewTimerScheduler(time.Millisecond),
		"task":  NewTaskScheduler(time.Millisecond),
	} {
		t.Run(name, func(t *testing.T) {
			noop := func(context.Context) {}
			if err := s.Start(noop); err != nil {
				t.Fatal(err)
			}
			if err := s.Start(noop); !errors.Is(err, ErrAlreadyRunning) {
				t.Errorf("expected ErrAlreadyRunning, got %v", err)
			}
			s.Stop()
			s.Stop()
			if err := s.Start(noop); err != nil {
				t.Errorf("restart after stop failed: %v", err)
			}
			s.Stop()
		})
	}
}

func TestTaskSchedulerSleepsRemainder(t *testing.T) {
	s := NewTaskScheduler(30 * time.Millisecond)
	var calls atomic.Int32
	if err := s.Start(func(context.Context) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	// One call per 30ms period, not per 50ms.
	if n := calls.Load(); n < 6 || n > 8 {
		t.Errorf("tick ran %d times in 200ms, want about 7", n)
	}
}

func TestTimerSchedulerKeepsSyntheticRate(t *testing.T) {
	const interval = 10 * time.Millisecond
	gen := synthetic.New(synthetic.Config{Width: 8, Height: 8, Interval: interval}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer gen.Close()

	var frames atomic.Int32
	s := NewTimerScheduler(interval)
	if err := s.Start(func(ctx context.Context) {
		f, err := gen.PopFrame(ctx)
		if err != nil {
			return
		}
		f.Release()
		frames.Add(1)
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * interval)
	s.Stop()

	// about 30 expected; a full sleep per tick halves that
	if n := frames.Load(); n < 22 {
		t.Errorf("rendered %d frames in 30 intervals (%d ticks skipped)", n, s.Skipped())
	}
}
