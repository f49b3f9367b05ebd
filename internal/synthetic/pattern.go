package synthetic

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/sinkcam/internal/frame"
)

// colourBars are the eight full-intensity SMPTE-style bars as RGB.
var colourBars = [8][3]byte{
	{255, 255, 255},
	{255, 255, 0},
	{0, 255, 255},
	{0, 255, 0},
	{255, 0, 255},
	{255, 0, 0},
	{0, 0, 255},
	{0, 0, 0},
}

// Pattern is a deterministic frame source: scrolling colour bars for colour
// layouts and a horizontal ramp for depth.
type Pattern struct {
	name     string
	format   frame.Format
	interval time.Duration

	depthMin, depthMax uint16 // millimetres

	mu  sync.Mutex
	seq uint64
}

// NewPattern creates a pattern source. interval 0 produces frames without
// waiting.
func NewPattern(name string, format frame.Format, interval time.Duration) (*Pattern, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Pattern{
		name:     name,
		format:   format,
		interval: interval,
		depthMin: 10,
		depthMax: 15000,
	}, nil
}

// SetDepthRange changes the millimetre range of the depth ramp.
func (p *Pattern) SetDepthRange(minMM, maxMM uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depthMin, p.depthMax = minMM, maxMM
}

// Name returns the source name.
func (p *Pattern) Name() string {
	return p.name
}

// Format returns the pattern format.
func (p *Pattern) Format() frame.Format {
	return p.format
}

// NextFrame waits one interval and returns the next pattern frame.
func (p *Pattern) NextFrame(ctx context.Context) (*frame.Frame, error) {
	if p.interval > 0 {
		timer := time.NewTimer(p.interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	seq := p.seq
	p.seq++
	p.mu.Unlock()

	pixels, err := p.Render(seq)
	if err != nil {
		return nil, err
	}
	f := frame.New(pixels, p.format, frame.HostTimeNanos(), nil)
	f.Sequence = seq
	return f, nil
}

// Render returns the pixels of frame seq. The bars scroll one pixel per frame.
func (p *Pattern) Render(seq uint64) ([]byte, error) {
	w, h := int(p.format.Width), int(p.format.Height)
	out := make([]byte, p.format.ByteSize())
	shift := int(seq % uint64(w))

	switch p.format.Layout {
	case frame.LayoutRGB8, frame.LayoutBGRA8:
		bpp := int(p.format.Layout.BytesPerPixel())
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := colourBars[((x+shift)%w)*len(colourBars)/w]
				i := (y*w + x) * bpp
				if p.format.Layout == frame.LayoutRGB8 {
					out[i], out[i+1], out[i+2] = c[0], c[1], c[2]
				} else {
					out[i], out[i+1], out[i+2], out[i+3] = c[2], c[1], c[0], 255
				}
			}
		}

	case frame.LayoutDepth16mm:
		p.mu.Lock()
		lo, hi := int(p.depthMin), int(p.depthMax)
		p.mu.Unlock()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				pos := (x + shift) % w
				depth := lo
				if w > 1 {
					depth = lo + (hi-lo)*pos/(w-1)
				}
				binary.LittleEndian.PutUint16(out[(y*w+x)*2:], uint16(depth))
			}
		}

	default:
		return nil, fmt.Errorf("%w: no pattern for %s", frame.ErrInvalidFormat, p.format.Layout)
	}
	return out, nil
}
