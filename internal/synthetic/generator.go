// Package synthetic renders placeholder frames and deterministic test
// patterns.
//
// A Generator produces solid colour BGRA8 frames with a centred caption.
// The relay shows them while no producer is attached or while it is
// recovering from an error, so the caption doubles as a diagnostic channel.
package synthetic

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/sinkcam/internal/bufferpool"
	"github.com/smazurov/sinkcam/internal/frame"
)

// Defaults for Config.
const (
	DefaultWidth         = 640
	DefaultHeight        = 480
	DefaultInterval      = time.Second / 60
	DefaultPoolThreshold = 13
	DefaultLabel         = "sinkcam"
)

// Config describes the generated frames.
type Config struct {
	Label         string
	Width         uint32
	Height        uint32
	Background    color.RGBA
	TextColor     color.RGBA
	Interval      time.Duration
	PoolThreshold int
	// TextScale multiplies the 7x13 font. 0 picks a scale from the height.
	TextScale int
}

// DefaultConfig returns a 640x480 black 60fps configuration.
func DefaultConfig() Config {
	return Config{
		Label:         DefaultLabel,
		Width:         DefaultWidth,
		Height:        DefaultHeight,
		Background:    color.RGBA{A: 255},
		TextColor:     color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Interval:      DefaultInterval,
		PoolThreshold: DefaultPoolThreshold,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Label == "" {
		c.Label = d.Label
	}
	if c.Width == 0 || c.Height == 0 {
		c.Width, c.Height = d.Width, d.Height
	}
	if c.Background == (color.RGBA{}) {
		c.Background = d.Background
	}
	if c.TextColor == (color.RGBA{}) {
		c.TextColor = d.TextColor
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.PoolThreshold <= 0 {
		c.PoolThreshold = d.PoolThreshold
	}
	if c.TextScale <= 0 {
		c.TextScale = max(1, int(c.Height)/160)
	}
}

// Generator renders caption frames into a private buffer pool.
type Generator struct {
	cfg     Config
	format  frame.Format
	pool    *bufferpool.Pool
	logger  *slog.Logger
	startTS uint64

	mu         sync.Mutex
	warning    string
	hasWarning bool
	counter    uint64
	next       time.Time
}

// New creates a generator. Zero fields of cfg take their defaults.
func New(cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Generator{
		cfg:    cfg,
		format: frame.NewFormat(cfg.Width, cfg.Height, frame.LayoutBGRA8),
		pool: bufferpool.New("synthetic",
			bufferpool.WithThreshold(cfg.PoolThreshold),
			bufferpool.WithLogger(logger),
		),
		logger:  logger,
		startTS: frame.HostTimeNanos(),
		next:    time.Now().Add(cfg.Interval),
	}
}

// Name implements the relay's frame source interface.
func (g *Generator) Name() string {
	return "synthetic"
}

// Format returns the format of every generated frame.
func (g *Generator) Format() frame.Format {
	return g.format
}

// Interval returns the frame interval.
func (g *Generator) Interval() time.Duration {
	return g.cfg.Interval
}

// SetWarningText replaces the caption's first line from the next frame on.
func (g *Generator) SetWarningText(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.warning = text
	g.hasWarning = true
}

// ClearWarningText restores the label caption.
func (g *Generator) ClearWarningText() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.warning = ""
	g.hasWarning = false
}

// WarningText returns the current warning and whether one is set.
func (g *Generator) WarningText() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.warning, g.hasWarning
}

// PopFrame renders a frame no sooner than one interval after the previous
// one was due. A caller that is already late gets its frame at once, so a
// caller ticking on the interval is never slowed down. Falling more than an
// interval behind restarts the pacing from now.
func (g *Generator) PopFrame(ctx context.Context) (*frame.Frame, error) {
	g.mu.Lock()
	due := g.next
	g.mu.Unlock()

	if wait := time.Until(due); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	next := due.Add(g.cfg.Interval)
	if next.Before(now) {
		next = now.Add(g.cfg.Interval)
	}
	g.mu.Lock()
	g.next = next
	g.mu.Unlock()
	return g.Render(frame.HostTimeNanos())
}

// NextFrame implements the relay's frame source interface.
func (g *Generator) NextFrame(ctx context.Context) (*frame.Frame, error) {
	return g.PopFrame(ctx)
}

// Render draws a frame stamped ts without waiting.
func (g *Generator) Render(ts uint64) (*frame.Frame, error) {
	buf, err := g.pool.Allocate(g.format)
	if err != nil {
		return nil, fmt.Errorf("synthetic frame: %w", err)
	}

	g.mu.Lock()
	g.counter++
	seq := g.counter
	lines := g.captionLocked(ts, seq)
	g.mu.Unlock()

	img := newBGRAImage(buf.Data, int(g.cfg.Width), int(g.cfg.Height))
	img.fill(g.cfg.Background)
	drawCaption(img, lines, g.cfg.TextColor, g.cfg.TextScale)

	f := bufferpool.FrameFrom(buf, ts)
	f.Sequence = seq
	return f, nil
}

// Caption returns the lines the next frame stamped ts would carry.
func (g *Generator) Caption(ts uint64) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captionLocked(ts, g.counter+1)
}

func (g *Generator) captionLocked(ts, seq uint64) []string {
	head := g.cfg.Label
	if g.hasWarning {
		head = g.warning
	}

	var elapsed uint64
	if ts > g.startTS {
		elapsed = (ts - g.startTS) / uint64(time.Millisecond)
	}

	lines := strings.Split(head, "\n")
	return append(lines, strconv.FormatUint(elapsed, 10), strconv.FormatUint(seq, 10))
}

// Close drops the generator's buffers.
func (g *Generator) Close() {
	g.pool.Close()
}
