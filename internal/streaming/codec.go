package streaming

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/smazurov/sinkcam/internal/frame"
)

// HeaderSize is the length of the frame header preceding the pixels.
const HeaderSize = 24

// Magic opens every encoded frame.
var Magic = [4]byte{'S', 'C', 'F', '1'}

// Codec errors.
var (
	ErrBadMagic    = errors.New("bad frame magic")
	ErrShortFrame  = errors.New("frame message too short")
	ErrPixelLength = errors.New("pixel length does not match header")
)

// AppendFrame appends the encoded frame to dst and returns the result.
//
// Layout (little endian): magic[4] width u32 height u32 layout u8 pad[3]
// timestamp u64, then the pixels.
func AppendFrame(dst []byte, f *frame.Frame, ts uint64) []byte {
	dst = append(dst, Magic[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, f.Format.Width)
	dst = binary.LittleEndian.AppendUint32(dst, f.Format.Height)
	dst = append(dst, byte(f.Format.Layout), 0, 0, 0)
	dst = binary.LittleEndian.AppendUint64(dst, ts)
	return append(dst, f.Pixels...)
}

// DecodeFrame parses one message. The returned pixels alias msg.
func DecodeFrame(msg []byte) (frame.Format, uint64, []byte, error) {
	if len(msg) < HeaderSize {
		return frame.Format{}, 0, nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(msg))
	}
	if [4]byte(msg[:4]) != Magic {
		return frame.Format{}, 0, nil, ErrBadMagic
	}

	format := frame.NewFormat(
		binary.LittleEndian.Uint32(msg[4:8]),
		binary.LittleEndian.Uint32(msg[8:12]),
		frame.Layout(msg[12]),
	)
	if err := format.Validate(); err != nil {
		return frame.Format{}, 0, nil, err
	}
	ts := binary.LittleEndian.Uint64(msg[16:24])

	pixels := msg[HeaderSize:]
	if uint64(len(pixels)) != format.ByteSize() {
		return frame.Format{}, 0, nil, fmt.Errorf("%w: got %d, want %d", ErrPixelLength, len(pixels), format.ByteSize())
	}
	return format, ts, pixels, nil
}
