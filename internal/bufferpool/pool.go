// Package bufferpool recycles fixed-format pixel buffers.
//
// A Pool holds one ring of buffers that all share a single frame.Format.
// Asking for another format discards the ring and builds a new one; buffers
// still out from the old ring are dropped when released instead of being
// returned.
package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/metrics"
)

// ErrPoolExhausted is returned when every buffer of the ring is in use.
var ErrPoolExhausted = errors.New("buffer pool exhausted")

// DefaultThreshold bounds the number of live buffers per ring.
const DefaultThreshold = 10

// Buffer is one handout of pooled pixel memory. Data has exactly
// Format.ByteSize() bytes. Each Allocate returns a new Buffer even when the
// memory is recycled, so a Buffer is owned by a single holder.
type Buffer struct {
	Data   []byte
	Format frame.Format

	ring     *ring
	released bool
}

// Release hands the memory back to its ring. Further calls on the same
// Buffer are no-ops and never affect a later handout of the same memory.
func (b *Buffer) Release() {
	if b == nil || b.ring == nil {
		return
	}
	b.ring.put(b)
}

// ring is one generation of buffers for one format.
type ring struct {
	mu        sync.Mutex
	format    frame.Format
	threshold int
	free      [][]byte
	live      int
	closed    bool
}

func (r *ring) get() (*Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live >= r.threshold {
		return nil, fmt.Errorf("%w: %d/%d buffers in use for %s", ErrPoolExhausted, r.live, r.threshold, r.format)
	}
	r.live++

	var data []byte
	if n := len(r.free); n > 0 {
		data = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		data = make([]byte, r.format.ByteSize())
	}
	return &Buffer{Data: data, Format: r.format, ring: r}, nil
}

func (r *ring) put(b *Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.released {
		return
	}
	b.released = true
	r.live--

	// Old generations just let their memory go.
	if !r.closed {
		r.free = append(r.free, b.Data)
	}
}

func (r *ring) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.free = nil
}

// Pool allocates buffers of the most recently requested format.
type Pool struct {
	name      string
	threshold int
	logger    *slog.Logger

	mu            sync.Mutex
	current       *ring
	reallocations uint64
}

// Option configures a Pool.
type Option func(*Pool)

// WithThreshold sets the maximum number of live buffers per ring.
func WithThreshold(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.threshold = n
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New creates an empty pool. The first ring is built by the first Allocate.
func New(name string, opts ...Option) *Pool {
	p := &Pool{
		name:      name,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Allocate returns a buffer matching format, rebuilding the ring first when
// the format differs from the current one.
func (p *Pool) Allocate(format frame.Format) (*Buffer, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.current == nil || p.current.format != format {
		if p.current != nil {
			p.logger.Debug("Buffer pool format changed", "pool", p.name, "from", p.current.format.String(), "to", format.String())
			p.current.close()
		}
		p.current = &ring{format: format, threshold: p.threshold}
		p.reallocations++
		metrics.IncPoolReallocation(p.name)
	}
	r := p.current
	p.mu.Unlock()

	buf, err := r.get()
	if err != nil {
		metrics.IncPoolExhausted(p.name)
		return nil, err
	}
	return buf, nil
}

// IsMatchingFormat reports whether the current ring serves format.
func (p *Pool) IsMatchingFormat(format frame.Format) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && p.current.format == format
}

// Format returns the current ring format and whether a ring exists.
func (p *Pool) Format() (frame.Format, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return frame.Format{}, false
	}
	return p.current.format, true
}

// Reallocations returns how many rings the pool has built.
func (p *Pool) Reallocations() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reallocations
}

// InUse returns the number of live buffers in the current ring.
func (p *Pool) InUse() int {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Close drops the current ring. The next Allocate builds a new one.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.close()
		p.current = nil
	}
}

// FrameFrom wraps buf in a frame whose release returns buf to the pool.
func FrameFrom(buf *Buffer, timestamp uint64) *frame.Frame {
	return frame.New(buf.Data, buf.Format, timestamp, buf.Release)
}
