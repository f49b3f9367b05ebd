// Package frame defines pixel formats, frames and the host clock shared by
// every stage of the relay.
package frame

import (
	"sync"
	"time"
)

// epoch anchors HostTimeNanos to the monotonic clock reading taken at startup.
var epoch = time.Now()

// HostTimeNanos returns nanoseconds on the monotonic host clock.
func HostTimeNanos() uint64 {
	return uint64(time.Since(epoch))
}

// Frame is a single timestamped video sample.
//
// Pixels must not be modified once the frame has been handed on. Consumers
// that keep pixel data past Push must copy it.
type Frame struct {
	Pixels    []byte
	Format    Format
	Timestamp uint64 // nanoseconds, HostTimeNanos clock
	Sequence  uint64

	releaseOnce sync.Once
	release     func()
}

// New creates a frame over pixels with an optional release hook.
func New(pixels []byte, format Format, timestamp uint64, release func()) *Frame {
	return &Frame{
		Pixels:    pixels,
		Format:    format,
		Timestamp: timestamp,
		release:   release,
	}
}

// Release runs the release hook once. Safe on a nil frame.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.releaseOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// Age returns how long ago the frame was stamped.
func (f *Frame) Age() time.Duration {
	now := HostTimeNanos()
	if f.Timestamp > now {
		return 0
	}
	return time.Duration(now - f.Timestamp)
}
