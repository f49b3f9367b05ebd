//go:build !nogpu

package wgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/smazurov/sinkcam/internal/gpu"
)

const releaseTimeout = 5 * time.Second

// buffer keeps a host shadow of the mapped range. Read maps fill it from
// the device once the fence passes. Write maps upload it on Unmap.
type buffer struct {
	dev   *Device
	raw   hal.Buffer
	label string
	size  uint64
	usage gpu.BufferUsage

	mu        sync.Mutex
	state     gpu.MapState
	mode      gpu.MapMode
	mapOffset uint64
	mapSize   uint64
	shadow    []byte
	waitFor   uint64
	released  bool
}

func (b *buffer) Label() string          { return b.label }
func (b *buffer) Size() uint64           { return b.size }
func (b *buffer) Usage() gpu.BufferUsage { return b.usage }

func (b *buffer) inRange(offset, size uint64) bool {
	return offset <= b.size && size <= b.size-offset
}

func (b *buffer) live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.released
}

// MapAsync implements gpu.Buffer.
func (b *buffer) MapAsync(mode gpu.MapMode, offset, size uint64) error {
	switch mode {
	case gpu.MapModeRead:
		if !b.usage.Has(gpu.BufferUsageMapRead) {
			return fmt.Errorf("%w: %q is not MapRead", gpu.ErrInvalidUsage, b.label)
		}
	case gpu.MapModeWrite:
		if !b.usage.Has(gpu.BufferUsageMapWrite) {
			return fmt.Errorf("%w: %q is not MapWrite", gpu.ErrInvalidUsage, b.label)
		}
	default:
		return fmt.Errorf("%w: map mode %d", gpu.ErrInvalidUsage, mode)
	}
	if !b.inRange(offset, size) {
		return fmt.Errorf("%w: map [%d,+%d) of %q", gpu.ErrInvalidSize, offset, size, b.label)
	}

	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return gpu.ErrReleased
	}
	if b.state != gpu.MapStateUnmapped {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q is %s", gpu.ErrAlreadyMapped, b.label, b.state)
	}
	b.state = gpu.MapStatePending
	b.mode = mode
	b.mapOffset, b.mapSize = offset, size
	b.mu.Unlock()

	if err := b.dev.requestMap(b); err != nil {
		b.mu.Lock()
		b.state = gpu.MapStateFailed
		b.mu.Unlock()
		return err
	}
	return nil
}

// completeMap runs from Poll once the fence has passed the request.
func (b *buffer) completeMap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	// An Unmap while pending cancels the request.
	if b.state != gpu.MapStatePending {
		return
	}
	b.shadow = make([]byte, b.mapSize)
	if b.mode == gpu.MapModeRead {
		if err := b.dev.rawQueue.ReadBuffer(b.raw, b.mapOffset, b.shadow); err != nil {
			b.shadow = nil
			b.state = gpu.MapStateFailed
			return
		}
	}
	b.state = gpu.MapStateMapped
}

// MapState implements gpu.Buffer.
func (b *buffer) MapState() gpu.MapState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// MappedRange implements gpu.Buffer.
func (b *buffer) MappedRange(offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != gpu.MapStateMapped {
		return nil, fmt.Errorf("%w: %q is %s", gpu.ErrNotMapped, b.label, b.state)
	}
	if offset < b.mapOffset || size > b.mapSize || offset-b.mapOffset > b.mapSize-size {
		return nil, fmt.Errorf("%w: range [%d,+%d) outside mapping", gpu.ErrInvalidSize, offset, size)
	}
	start := offset - b.mapOffset
	return b.shadow[start : start+size : start+size], nil
}

// Unmap implements gpu.Buffer.
func (b *buffer) Unmap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == gpu.MapStateMapped && b.mode == gpu.MapModeWrite && !b.released {
		b.dev.rawQueue.WriteBuffer(b.raw, b.mapOffset, b.shadow)
	}
	b.state = gpu.MapStateUnmapped
	b.mapOffset, b.mapSize = 0, 0
	b.shadow = nil
}

// Release implements gpu.Buffer. The device buffer is destroyed once
// submissions that may use it have completed.
func (b *buffer) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	b.state = gpu.MapStateUnmapped
	b.shadow = nil
	b.mu.Unlock()

	b.dev.retire(func() { b.dev.raw.DestroyBuffer(b.raw) })
}
