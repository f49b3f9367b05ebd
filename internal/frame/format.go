package frame

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFormat is returned when a format has zero dimensions or an unknown layout.
var ErrInvalidFormat = errors.New("invalid frame format")

// Layout identifies how pixel bytes are arranged.
type Layout uint8

// Supported layouts.
const (
	LayoutUnknown   Layout = iota
	LayoutRGB8             // 3 channels, 1 byte each
	LayoutBGRA8            // 4 channels, 1 byte each
	LayoutDepth16mm        // 1 channel, 2 bytes little-endian millimetres
)

// Channels returns the channel count for the layout.
func (l Layout) Channels() uint32 {
	switch l {
	case LayoutRGB8:
		return 3
	case LayoutBGRA8:
		return 4
	case LayoutDepth16mm:
		return 1
	default:
		return 0
	}
}

// BytesPerChannel returns the size of one channel value.
func (l Layout) BytesPerChannel() uint32 {
	switch l {
	case LayoutRGB8, LayoutBGRA8:
		return 1
	case LayoutDepth16mm:
		return 2
	default:
		return 0
	}
}

// BytesPerPixel returns channels * bytes per channel.
func (l Layout) BytesPerPixel() uint32 {
	return l.Channels() * l.BytesPerChannel()
}

// Valid reports whether the layout is one of the supported layouts.
func (l Layout) Valid() bool {
	return l.Channels() != 0
}

func (l Layout) String() string {
	switch l {
	case LayoutRGB8:
		return "rgb8"
	case LayoutBGRA8:
		return "bgra8"
	case LayoutDepth16mm:
		return "depth16mm"
	default:
		return "unknown"
	}
}

// ParseLayout converts a layout name (case-insensitive) to a Layout.
func ParseLayout(name string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rgb8", "rgb":
		return LayoutRGB8, nil
	case "bgra8", "bgra":
		return LayoutBGRA8, nil
	case "depth16mm", "depth16", "depth":
		return LayoutDepth16mm, nil
	default:
		return LayoutUnknown, fmt.Errorf("%w: unknown layout %q", ErrInvalidFormat, name)
	}
}

// Format describes the dimensions and layout of a pixel buffer.
// Channel count and channel size are always derived from Layout.
type Format struct {
	Width  uint32 `json:"width" toml:"width"`
	Height uint32 `json:"height" toml:"height"`
	Layout Layout `json:"layout" toml:"layout"`
}

// NewFormat returns a Format for the given dimensions and layout.
func NewFormat(width, height uint32, layout Layout) Format {
	return Format{Width: width, Height: height, Layout: layout}
}

// Channels returns the channel count of the layout.
func (f Format) Channels() uint32 { return f.Layout.Channels() }

// BytesPerChannel returns the channel size of the layout.
func (f Format) BytesPerChannel() uint32 { return f.Layout.BytesPerChannel() }

// BytesPerRow returns the tightly packed row stride.
func (f Format) BytesPerRow() uint32 {
	return f.Width * f.Layout.BytesPerPixel()
}

// PixelCount returns width * height.
func (f Format) PixelCount() uint64 {
	return uint64(f.Width) * uint64(f.Height)
}

// ByteSize returns the total size of a tightly packed buffer.
func (f Format) ByteSize() uint64 {
	return f.PixelCount() * uint64(f.Layout.BytesPerPixel())
}

// Validate checks that the format can describe a real buffer.
func (f Format) Validate() error {
	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidFormat, f.Width, f.Height)
	}
	if !f.Layout.Valid() {
		return fmt.Errorf("%w: layout %d", ErrInvalidFormat, f.Layout)
	}
	return nil
}

// WithLayout returns a copy of the format using another layout.
func (f Format) WithLayout(layout Layout) Format {
	f.Layout = layout
	return f
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d %s", f.Width, f.Height, f.Layout)
}

// MarshalText implements encoding.TextMarshaler so layouts read naturally in TOML and JSON.
func (l Layout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Layout) UnmarshalText(text []byte) error {
	parsed, err := ParseLayout(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
