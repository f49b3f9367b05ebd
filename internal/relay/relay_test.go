package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/sinkcam/internal/convert"
	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/gpu"
	"github.com/smazurov/sinkcam/internal/gpu/soft"
	"github.com/smazurov/sinkcam/internal/synthetic"
)

var errNoSample = errors.New("no sample available")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedSource returns queued results in order, then errNoSample.
type scriptedSource struct {
	name string

	mu      sync.Mutex
	results []func() (*frame.Frame, error)
	pulls   int
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) NextFrame(context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls++
	if len(s.results) == 0 {
		return nil, errNoSample
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next()
}

func (s *scriptedSource) Pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

func rgbFrame(ts uint64, seq uint64) func() (*frame.Frame, error) {
	return func() (*frame.Frame, error) {
		pixels := []byte{
			255, 0, 0, 0, 255, 0,
			0, 0, 255, 10, 20, 30,
		}
		f := frame.New(pixels, frame.NewFormat(2, 2, frame.LayoutRGB8), ts, nil)
		f.Sequence = seq
		return f, nil
	}
}

func failing(err error) func() (*frame.Frame, error) {
	return func() (*frame.Frame, error) { return nil, err }
}

type received struct {
	ts     uint64
	seq    uint64
	format frame.Format
	pixels []byte
	first  *byte
}

type recordingConsumer struct {
	id     string
	layout frame.Layout
	err    error

	mu     sync.Mutex
	frames []received
}

func (c *recordingConsumer) ID() string           { return c.id }
func (c *recordingConsumer) Layout() frame.Layout { return c.layout }

func (c *recordingConsumer) Push(_ context.Context, f *frame.Frame) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, received{
		ts:     f.Timestamp,
		seq:    f.Sequence,
		format: f.Format,
		pixels: append([]byte(nil), f.Pixels...),
		first:  &f.Pixels[0],
	})
	return nil
}

func (c *recordingConsumer) Frames() []received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]received(nil), c.frames...)
}

type countingConverter struct {
	inner Converter
	calls atomic.Int32
}

func (c *countingConverter) ConvertInto(ctx context.Context, input []byte, in frame.Format, layout frame.Layout, depth *convert.DepthParams, fn func([]byte) error) error {
	c.calls.Add(1)
	return c.inner.ConvertInto(ctx, input, in, layout, depth, fn)
}

type failingConverter struct{ err error }

func (c failingConverter) ConvertInto(context.Context, []byte, frame.Format, frame.Layout, *convert.DepthParams, func([]byte) error) error {
	return c.err
}

func newGenerator() *synthetic.Generator {
	return synthetic.New(synthetic.Config{Label: "test", Width: 8, Height: 8, Interval: time.Millisecond}, discardLogger())
}

func newRelay(t *testing.T, cfg Config, conv Converter, opts ...Option) *Relay {
	t.Helper()
	gen := newGenerator()
	t.Cleanup(gen.Close)
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	r, err := New(cfg, gen, conv, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func softConverter(t *testing.T) *convert.Converter {
	t.Helper()
	gpuCtx := gpu.NewContext(soft.New(), discardLogger())
	t.Cleanup(gpuCtx.Close)
	c, err := convert.New(gpuCtx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestInactivePumpSkips(t *testing.T) {
	r := newRelay(t, Config{Interval: 5 * time.Millisecond}, nil)
	src := &scriptedSource{name: "cam", results: []func() (*frame.Frame, error){rgbFrame(1, 1)}}
	if err := r.AttachProducer(src); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if got := r.Pump(context.Background()); got != OutcomeSkipped {
		t.Errorf("Pump() = %s, want skipped", got)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("inactive pump should sleep one interval")
	}
	if src.Pulls() != 0 {
		t.Error("inactive pump must not touch the producer")
	}
	if state, _ := r.State(); state != StateIdle {
		t.Errorf("state = %s, want idle", state)
	}
}

func TestFallbackWithoutProducers(t *testing.T) {
	r := newRelay(t, Config{}, nil)
	c := &recordingConsumer{id: "viewer", layout: frame.LayoutBGRA8}
	if err := r.AttachConsumer(c); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	for i := 0; i < 5; i++ {
		if got := r.Pump(context.Background()); got != OutcomeSynthetic {
			t.Fatalf("pump %d = %s, want synthetic", i, got)
		}
	}

	frames := c.Frames()
	if len(frames) != 5 {
		t.Fatalf("consumer got %d frames, want 5", len(frames))
	}
	if frames[0].format.Layout != frame.LayoutBGRA8 {
		t.Errorf("synthetic layout = %s", frames[0].format.Layout)
	}
	if text, ok := r.synthetic.WarningText(); !ok || text != WaitingText {
		t.Errorf("caption = %q, %v; want %q", text, ok, WaitingText)
	}
	if state, msg := r.State(); state != StateWaitingForProducer || msg != WaitingText {
		t.Errorf("state = %s %q, want waiting", state, msg)
	}
	if s := r.Stats(); s.Synthetic != 5 {
		t.Errorf("Stats().Synthetic = %d, want 5", s.Synthetic)
	}
}

func TestOrderingPreserved(t *testing.T) {
	r := newRelay(t, Config{}, nil)
	src := &scriptedSource{name: "cam", results: []func() (*frame.Frame, error){
		rgbFrame(100, 1), rgbFrame(200, 2), rgbFrame(300, 3),
	}}
	c := &recordingConsumer{id: "rgb", layout: frame.LayoutRGB8}
	if err := r.AttachProducer(src); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachConsumer(c); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	for i := 0; i < 3; i++ {
		if got := r.Pump(context.Background()); got != OutcomeRelayed {
			t.Fatalf("pump %d = %s, want relayed", i, got)
		}
	}

	frames := c.Frames()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, want := range []uint64{100, 200, 300} {
		if frames[i].ts != want {
			t.Errorf("frame %d ts = %d, want %d", i, frames[i].ts, want)
		}
	}
	if state, _ := r.State(); state != StateStreaming {
		t.Errorf("state = %s, want streaming", state)
	}
	if r.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", r.LastError())
	}
}

func TestConversionRouting(t *testing.T) {
	conv := &countingConverter{inner: softConverter(t)}
	r := newRelay(t, Config{}, conv)

	var original *byte
	src := &scriptedSource{name: "cam", results: []func() (*frame.Frame, error){
		func() (*frame.Frame, error) {
			f, err := rgbFrame(1, 1)()
			original = &f.Pixels[0]
			return f, err
		},
	}}
	rgb := &recordingConsumer{id: "rgb", layout: frame.LayoutRGB8}
	bgraA := &recordingConsumer{id: "bgra-a", layout: frame.LayoutBGRA8}
	bgraB := &recordingConsumer{id: "bgra-b", layout: frame.LayoutBGRA8}
	for _, c := range []*recordingConsumer{rgb, bgraA, bgraB} {
		if err := r.AttachConsumer(c); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.AttachProducer(src); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	if got := r.Pump(context.Background()); got != OutcomeRelayed {
		t.Fatalf("Pump() = %s, want relayed", got)
	}

	if n := conv.calls.Load(); n != 1 {
		t.Errorf("converter called %d times, want 1", n)
	}
	if f := rgb.Frames(); len(f) != 1 || f[0].first != original {
		t.Error("same-layout consumer should get the producer frame unchanged")
	}
	want := []byte{0, 0, 255, 255, 0, 255, 0, 255, 255, 0, 0, 255, 30, 20, 10, 255}
	for _, c := range []*recordingConsumer{bgraA, bgraB} {
		f := c.Frames()
		if len(f) != 1 {
			t.Fatalf("%s got %d frames", c.id, len(f))
		}
		if string(f[0].pixels) != string(want) {
			t.Errorf("%s pixels = % x, want % x", c.id, f[0].pixels, want)
		}
		if f[0].ts != 1 || f[0].seq != 1 {
			t.Errorf("%s converted frame lost timestamp or sequence", c.id)
		}
	}
}

func TestConsumerFailureIsolation(t *testing.T) {
	r := newRelay(t, Config{}, nil)
	src := &scriptedSource{name: "cam", results: []func() (*frame.Frame, error){rgbFrame(1, 1)}}
	bad := &recordingConsumer{id: "bad", layout: frame.LayoutRGB8, err: errors.New("pipe closed")}
	good := &recordingConsumer{id: "good", layout: frame.LayoutRGB8}
	for _, c := range []*recordingConsumer{bad, good} {
		if err := r.AttachConsumer(c); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.AttachProducer(src); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	if got := r.Pump(context.Background()); got != OutcomeRelayed {
		t.Fatalf("Pump() = %s, want relayed", got)
	}
	if len(good.Frames()) != 1 {
		t.Error("healthy consumer should still receive the frame")
	}
	if n := r.ConsumerFailures()["bad"]; n != 1 {
		t.Errorf("failures for bad = %d, want 1", n)
	}
	if state, _ := r.State(); state != StateStreaming {
		t.Errorf("state = %s, want streaming", state)
	}
}

func TestAllConsumersFailingIsCycleError(t *testing.T) {
	r := newRelay(t, Config{}, nil)
	src := &scriptedSource{name: "cam", results: []func() (*frame.Frame, error){rgbFrame(1, 1)}}
	if err := r.AttachConsumer(&recordingConsumer{id: "bad", layout: frame.LayoutRGB8, err: errors.New("gone")}); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachProducer(src); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	r.Pump(context.Background())
	if state, _ := r.State(); state != StateError {
		t.Errorf("state = %s, want error", state)
	}
	if !errors.Is(r.LastError(), ErrAllConsumersFailed) {
		t.Errorf("LastError() = %v, want ErrAllConsumersFailed", r.LastError())
	}
}

func TestConversionFailureSurfacesAsSyntheticText(t *testing.T) {
	r := newRelay(t, Config{}, failingConverter{err: convert.ErrMapFailed})
	src := &scriptedSource{name: "cam", results: []func() (*frame.Frame, error){rgbFrame(1, 1)}}
	c := &recordingConsumer{id: "viewer", layout: frame.LayoutBGRA8}
	if err := r.AttachConsumer(c); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachProducer(src); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	if got := r.Pump(context.Background()); got != OutcomeSynthetic {
		t.Fatalf("Pump() = %s, want synthetic", got)
	}
	state, msg := r.State()
	if state != StateError || !strings.Contains(msg, convert.ErrMapFailed.Error()) {
		t.Errorf("state = %s %q, want error mentioning the map failure", state, msg)
	}
	text, _ := r.synthetic.WarningText()
	if !strings.Contains(text, convert.ErrMapFailed.Error()) {
		t.Errorf("caption = %q, want the conversion error", text)
	}
	frames := c.Frames()
	if len(frames) != 1 || frames[0].format != r.synthetic.Format() {
		t.Error("consumer should receive the synthetic error frame")
	}
}

func TestCooldownAfterProducerError(t *testing.T) {
	r := newRelay(t, Config{Cooldown: 50 * time.Millisecond}, nil)
	src := &scriptedSource{name: "cam", results: []func() (*frame.Frame, error){
		failing(errNoSample), rgbFrame(1, 1),
	}}
	c := &recordingConsumer{id: "rgb", layout: frame.LayoutRGB8}
	if err := r.AttachConsumer(c); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachProducer(src); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	if got := r.Pump(context.Background()); got != OutcomeSynthetic {
		t.Fatalf("first pump = %s, want synthetic", got)
	}
	if state, msg := r.State(); state != StateError || !strings.Contains(msg, "no sample") {
		t.Fatalf("state = %s %q, want error", state, msg)
	}

	if got := r.Pump(context.Background()); got != OutcomeSynthetic {
		t.Errorf("pump during cooldown = %s, want synthetic", got)
	}
	if src.Pulls() != 1 {
		t.Errorf("producer pulled %d times during cooldown, want 1", src.Pulls())
	}

	time.Sleep(60 * time.Millisecond)
	if got := r.Pump(context.Background()); got != OutcomeRelayed {
		t.Errorf("pump after cooldown = %s, want relayed", got)
	}
	if state, _ := r.State(); state != StateStreaming {
		t.Errorf("state = %s, want streaming", state)
	}
}

func TestFirstSuccessfulProducerWins(t *testing.T) {
	r := newRelay(t, Config{}, nil)
	empty := &scriptedSource{name: "a"}
	full := &scriptedSource{name: "b", results: []func() (*frame.Frame, error){rgbFrame(7, 1)}}
	after := &scriptedSource{name: "c", results: []func() (*frame.Frame, error){rgbFrame(9, 1)}}
	for _, s := range []*scriptedSource{empty, full, after} {
		if err := r.AttachProducer(s); err != nil {
			t.Fatal(err)
		}
	}
	c := &recordingConsumer{id: "rgb", layout: frame.LayoutRGB8}
	if err := r.AttachConsumer(c); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	if got := r.Pump(context.Background()); got != OutcomeRelayed {
		t.Fatalf("Pump() = %s, want relayed", got)
	}
	if f := c.Frames(); len(f) != 1 || f[0].ts != 7 {
		t.Errorf("expected the frame from producer b, got %+v", f)
	}
	if after.Pulls() != 0 {
		t.Error("producers after the first success must not be pulled")
	}
}

// blockingSource holds its frame until released.
type blockingSource struct {
	started  chan struct{}
	proceed  chan struct{}
	released atomic.Bool
}

func (s *blockingSource) Name() string { return "slow" }

func (s *blockingSource) NextFrame(context.Context) (*frame.Frame, error) {
	close(s.started)
	<-s.proceed
	return frame.New(make([]byte, 12), frame.NewFormat(2, 2, frame.LayoutRGB8), 1, func() { s.released.Store(true) }), nil
}

func TestDeactivateDiscardsInFlightFrame(t *testing.T) {
	r := newRelay(t, Config{PullTimeout: time.Second}, nil)
	src := &blockingSource{started: make(chan struct{}), proceed: make(chan struct{})}
	c := &recordingConsumer{id: "rgb", layout: frame.LayoutRGB8}
	if err := r.AttachProducer(src); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachConsumer(c); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	done := make(chan Outcome, 1)
	go func() { done <- r.Pump(context.Background()) }()

	<-src.started
	r.Deactivate()
	close(src.proceed)

	if got := <-done; got != OutcomeSkipped {
		t.Errorf("Pump() = %s, want skipped", got)
	}
	if len(c.Frames()) != 0 {
		t.Error("frame pulled before deactivation must be discarded")
	}
	if !src.released.Load() {
		t.Error("discarded frame must be released")
	}
	if state, _ := r.State(); state != StateIdle {
		t.Errorf("state = %s, want idle", state)
	}
}

func TestWarningOverrideWins(t *testing.T) {
	r := newRelay(t, Config{}, nil)
	r.SetWarningText("Maintenance")
	r.Activate()

	r.Pump(context.Background())
	if text, _ := r.synthetic.WarningText(); text != "Maintenance" {
		t.Errorf("caption = %q, want override", text)
	}

	r.ClearWarningText()
	r.Pump(context.Background())
	if text, _ := r.synthetic.WarningText(); text != WaitingText {
		t.Errorf("caption = %q, want waiting text", text)
	}
}

func TestDepthParams(t *testing.T) {
	r := newRelay(t, Config{}, nil)
	if got := r.DepthParams(); got != convert.DefaultDepthParams() {
		t.Errorf("DepthParams() = %+v, want defaults", got)
	}
	if err := r.SetDepthParams(convert.DepthParams{ClipNear: 300, ClipFar: 200}); !errors.Is(err, convert.ErrInvalidDepthRange) {
		t.Errorf("expected ErrInvalidDepthRange, got %v", err)
	}
	if err := r.SetDepthParams(convert.DepthParams{ClipNear: 200, ClipFar: 4000}); err != nil {
		t.Fatal(err)
	}
	if got := r.DepthParams().ClipFar; got != 4000 {
		t.Errorf("ClipFar = %d, want 4000", got)
	}
}

func TestDuplicateClients(t *testing.T) {
	r := newRelay(t, Config{}, nil)
	if err := r.AttachProducer(&scriptedSource{name: "cam"}); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachProducer(&scriptedSource{name: "cam"}); !errors.Is(err, ErrDuplicateClient) {
		t.Errorf("expected ErrDuplicateClient, got %v", err)
	}
	if !r.DetachProducer("cam") || r.DetachProducer("cam") {
		t.Error("DetachProducer should succeed once")
	}
}

func TestStateEventsPublished(t *testing.T) {
	bus := events.New()
	ch := make(chan events.RelayStateChangedEvent, 4)
	unsub := bus.Subscribe(func(e events.RelayStateChangedEvent) { ch <- e })
	defer unsub()

	r := newRelay(t, Config{}, nil, WithEventBus(bus))
	r.Activate()

	select {
	case e := <-ch:
		if e.State != "waiting" || e.Previous != "idle" {
			t.Errorf("event = %+v, want idle -> waiting", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no state event published")
	}
}

func noFrame() (*frame.Frame, error) { return nil, ErrNoFrame }

func TestNoFrameKeepsStreamingUntilStall(t *testing.T) {
	r := newRelay(t, Config{StallTimeout: 40 * time.Millisecond}, nil)
	// A cycle without a frame asks once without waiting and once with.
	src := &scriptedSource{name: "cam", results: []func() (*frame.Frame, error){
		noFrame, noFrame, rgbFrame(1, 1), noFrame, noFrame, noFrame, noFrame,
	}}
	c := &recordingConsumer{id: "rgb", layout: frame.LayoutRGB8}
	if err := r.AttachConsumer(c); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachProducer(src); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	if got := r.Pump(context.Background()); got != OutcomeSynthetic {
		t.Errorf("no frame before streaming = %s, want synthetic", got)
	}
	if state, _ := r.State(); state != StateWaitingForProducer {
		t.Errorf("state = %s, want waiting", state)
	}

	if got := r.Pump(context.Background()); got != OutcomeRelayed {
		t.Fatalf("Pump() = %s, want relayed", got)
	}
	if got := r.Pump(context.Background()); got != OutcomeSkipped {
		t.Errorf("no frame while streaming = %s, want skipped", got)
	}
	if state, _ := r.State(); state != StateStreaming || r.LastError() != nil {
		t.Errorf("state = %s err = %v, want streaming without error", state, r.LastError())
	}

	time.Sleep(50 * time.Millisecond)
	if got := r.Pump(context.Background()); got != OutcomeSynthetic {
		t.Errorf("no frame after stall = %s, want synthetic", got)
	}
	if state, _ := r.State(); state != StateWaitingForProducer {
		t.Errorf("state = %s, want waiting after stall", state)
	}
	if s := r.Stats(); s.Errors != 0 {
		t.Errorf("Stats().Errors = %d, want 0", s.Errors)
	}
}

func TestAttachConsumerRejectsUnservableLayout(t *testing.T) {
	r := newRelay(t, Config{}, softConverter(t))
	err := r.AttachConsumer(&recordingConsumer{id: "depth", layout: frame.LayoutDepth16mm})
	if !errors.Is(err, ErrUnsupportedLayout) {
		t.Fatalf("expected ErrUnsupportedLayout, got %v", err)
	}
	if r.SupportsLayout(frame.LayoutDepth16mm) || !r.SupportsLayout(frame.LayoutRGB8) || !r.SupportsLayout(frame.LayoutBGRA8) {
		t.Error("only layouts reachable from synthetic frames are supported")
	}
}

func TestRGB8ConsumerGetsSyntheticFrames(t *testing.T) {
	r := newRelay(t, Config{}, softConverter(t))
	c := &recordingConsumer{id: "rgb", layout: frame.LayoutRGB8}
	if err := r.AttachConsumer(c); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	for i := 0; i < 3; i++ {
		if got := r.Pump(context.Background()); got != OutcomeSynthetic {
			t.Fatalf("pump %d = %s, want synthetic", i, got)
		}
	}
	frames := c.Frames()
	if len(frames) != 3 {
		t.Fatalf("consumer got %d frames, want 3", len(frames))
	}
	want := r.synthetic.Format().WithLayout(frame.LayoutRGB8)
	if frames[0].format != want || uint64(len(frames[0].pixels)) != want.ByteSize() {
		t.Errorf("synthetic frame = %v with %d bytes, want %v", frames[0].format, len(frames[0].pixels), want)
	}
}

// idleSource has no frames and waits out every pull.
type idleSource struct {
	name  string
	pulls atomic.Int32
}

func (s *idleSource) Name() string { return s.name }

func (s *idleSource) NextFrame(ctx context.Context) (*frame.Frame, error) {
	s.pulls.Add(1)
	<-ctx.Done()
	return nil, ErrNoFrame
}

func TestIdleProducerDoesNotDelayLaterOnes(t *testing.T) {
	r := newRelay(t, Config{PullTimeout: 500 * time.Millisecond}, nil)
	idle := &idleSource{name: "idle"}
	ready := &scriptedSource{name: "ready", results: []func() (*frame.Frame, error){rgbFrame(5, 1)}}
	for _, p := range []FrameSource{idle, ready} {
		if err := r.AttachProducer(p); err != nil {
			t.Fatal(err)
		}
	}
	c := &recordingConsumer{id: "rgb", layout: frame.LayoutRGB8}
	if err := r.AttachConsumer(c); err != nil {
		t.Fatal(err)
	}
	r.Activate()

	start := time.Now()
	if got := r.Pump(context.Background()); got != OutcomeRelayed {
		t.Fatalf("Pump() = %s, want relayed", got)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("cycle took %v behind an idle producer", elapsed)
	}
	if f := c.Frames(); len(f) != 1 || f[0].ts != 5 {
		t.Errorf("expected the frame from the second producer, got %+v", f)
	}
}

func TestIdleProducersWaitOneTimeout(t *testing.T) {
	r := newRelay(t, Config{PullTimeout: 40 * time.Millisecond}, nil)
	a, b := &idleSource{name: "a"}, &idleSource{name: "b"}
	for _, p := range []FrameSource{a, b} {
		if err := r.AttachProducer(p); err != nil {
			t.Fatal(err)
		}
	}
	r.Activate()

	start := time.Now()
	if got := r.Pump(context.Background()); got != OutcomeSynthetic {
		t.Fatalf("Pump() = %s, want synthetic", got)
	}
	elapsed := time.Since(start)
	if elapsed < 40*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Errorf("cycle took %v, want about one pull timeout", elapsed)
	}
	if a.pulls.Load() < 2 || b.pulls.Load() < 2 {
		t.Errorf("pulls a=%d b=%d, want both polled repeatedly", a.pulls.Load(), b.pulls.Load())
	}
}
