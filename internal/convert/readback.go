package convert

import (
	"fmt"
	"time"

	"github.com/smazurov/sinkcam/internal/gpu"
)

type readbackState int

const (
	readbackRequested readbackState = iota
	readbackPending
	readbackMapped
	readbackFailed
	readbackTimedOut
)

func (s readbackState) String() string {
	switch s {
	case readbackRequested:
		return "requested"
	case readbackPending:
		return "pending"
	case readbackMapped:
		return "mapped"
	case readbackFailed:
		return "failed"
	case readbackTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// readback polls a buffer until the device has mapped it for reading.
type readback struct {
	device      gpu.Device
	buffer      gpu.Buffer
	interval    time.Duration
	maxAttempts int

	state    readbackState
	attempts int
	cause    error
}

func newReadback(device gpu.Device, buffer gpu.Buffer, interval time.Duration, maxAttempts int) *readback {
	return &readback{
		device:      device,
		buffer:      buffer,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// step advances the state machine once.
func (r *readback) step() {
	switch r.state {
	case readbackRequested:
		if err := r.buffer.MapAsync(gpu.MapModeRead, 0, r.buffer.Size()); err != nil {
			r.cause = err
			r.state = readbackFailed
			return
		}
		r.state = readbackPending

	case readbackPending:
		r.device.Poll()
		switch r.buffer.MapState() {
		case gpu.MapStateMapped:
			r.state = readbackMapped
		case gpu.MapStatePending:
			r.attempts++
			if r.attempts >= r.maxAttempts {
				r.state = readbackTimedOut
				return
			}
			time.Sleep(r.interval)
		default:
			r.state = readbackFailed
		}
	}
}

func (r *readback) done() bool {
	return r.state == readbackMapped || r.state == readbackFailed || r.state == readbackTimedOut
}

// wait runs the state machine to a terminal state. A timed out request is
// unmapped so the buffer can be released.
func (r *readback) wait() error {
	for !r.done() {
		r.step()
	}

	switch r.state {
	case readbackMapped:
		return nil
	case readbackTimedOut:
		r.buffer.Unmap()
		return fmt.Errorf("%w: still pending after %d polls", ErrMapTimeout, r.attempts)
	default:
		r.buffer.Unmap()
		if r.cause != nil {
			return fmt.Errorf("%w: %w", ErrMapFailed, r.cause)
		}
		return ErrMapFailed
	}
}
