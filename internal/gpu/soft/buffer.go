package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/sinkcam/internal/gpu"
)

type buffer struct {
	dev   *Device
	label string
	usage gpu.BufferUsage
	data  []byte

	mu        sync.Mutex
	state     gpu.MapState
	mapOffset uint64
	mapSize   uint64
	released  bool
}

func (b *buffer) Label() string          { return b.label }
func (b *buffer) Size() uint64           { return uint64(len(b.data)) }
func (b *buffer) Usage() gpu.BufferUsage { return b.usage }

func (b *buffer) inRange(offset, size uint64) bool {
	return offset <= uint64(len(b.data)) && size <= uint64(len(b.data))-offset
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
	b.mapOffset, b.mapSize = offset, size
	b.mu.Unlock()

	if err := b.dev.enqueue(b.completeMap); err != nil {
		b.finishMap(gpu.MapStateFailed)
		return err
	}
	return nil
}

// completeMap runs on the queue once all earlier work is done.
func (b *buffer) completeMap() {
	d := b.dev
	switch {
	case d.stallMaps:
	case d.failMaps:
		b.finishMap(gpu.MapStateFailed)
	case d.mapLatency > 0:
		time.AfterFunc(d.mapLatency, func() { b.finishMap(gpu.MapStateMapped) })
	default:
		b.finishMap(gpu.MapStateMapped)
	}
}

func (b *buffer) finishMap(state gpu.MapState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// An Unmap while pending cancels the request.
	if b.state == gpu.MapStatePending {
		b.state = state
	}
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
	return b.data[offset : offset+size : offset+size], nil
}

// Unmap implements gpu.Buffer.
func (b *buffer) Unmap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = gpu.MapStateUnmapped
	b.mapOffset, b.mapSize = 0, 0
}

// Release implements gpu.Buffer.
func (b *buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	b.state = gpu.MapStateUnmapped
}

func (b *buffer) isReleased() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}
