package convert

import (
	_ "embed"
	"math"

	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/gpu"
)

var (
	//go:embed kernels/rgb8_to_bgra8.wgsl
	rgb8ToBGRA8Source string

	//go:embed kernels/depth16_to_bgra8.wgsl
	depth16ToBGRA8Source string

	//go:embed kernels/bgra8_to_rgb8.wgsl
	bgra8ToRGB8Source string
)

var rgb8ToBGRA8Kernel = &gpu.Kernel{
	Label:      "rgb8_to_bgra8",
	EntryPoint: "rgb8_to_bgra8",
	WGSL:       rgb8ToBGRA8Source,
	Bindings:   []gpu.BindingType{gpu.BindingReadOnlyStorage, gpu.BindingStorage},
	Emulate:    rgb8ToBGRA8,
}

var depth16ToBGRA8Kernel = &gpu.Kernel{
	Label:      "depth16_to_bgra8",
	EntryPoint: "depth16_to_bgra8",
	WGSL:       depth16ToBGRA8Source,
	Bindings:   []gpu.BindingType{gpu.BindingReadOnlyStorage, gpu.BindingStorage, gpu.BindingUniform},
	Emulate:    depth16ToBGRA8,
}

var bgra8ToRGB8Kernel = &gpu.Kernel{
	Label:      "bgra8_to_rgb8",
	EntryPoint: "bgra8_to_rgb8",
	WGSL:       bgra8ToRGB8Source,
	Bindings:   []gpu.BindingType{gpu.BindingReadOnlyStorage, gpu.BindingStorage},
	Emulate:    bgra8ToRGB8,
}

var kernels = []*gpu.Kernel{rgb8ToBGRA8Kernel, depth16ToBGRA8Kernel, bgra8ToRGB8Kernel}

// workgroups returns the dispatch size for converting into out. Kernels
// writing packed 3-byte pixels run one workgroup per output word so no two
// workgroups store to the same word.
func workgroups(kernel *gpu.Kernel, out frame.Format, limit uint32) (x, y uint32) {
	if kernel != bgra8ToRGB8Kernel {
		return out.Width, out.Height
	}
	words := uint32(gpu.AlignSize(out.ByteSize()) / 4)
	x = min(words, limit)
	return x, (words + x - 1) / x
}

func pixelIndex(inv gpu.Invocation) uint32 {
	return inv.WorkgroupID[1]*inv.NumWorkgroups[0] + inv.WorkgroupID[0]
}

func readByte(s gpu.Storage, index uint32) uint32 {
	return (s.Load(index/4) >> ((index % 4) * 8)) & 0xff
}

func packBGRA(r, g, b, a uint32) uint32 {
	return b | g<<8 | r<<16 | a<<24
}

func rgb8ToBGRA8(inv gpu.Invocation, bindings []gpu.Storage) {
	input, output := bindings[0], bindings[1]
	pixel := pixelIndex(inv)
	base := pixel * 3

	r := readByte(input, base)
	g := readByte(input, base+1)
	b := readByte(input, base+2)

	output.Store(pixel, packBGRA(r, g, b, 255))
}

func depth16ToBGRA8(inv gpu.Invocation, bindings []gpu.Storage) {
	input, output, clip := bindings[0], bindings[1], bindings[2]
	pixel := pixelIndex(inv)
	byteIndex := pixel * 2
	depth := (input.Load(byteIndex/4) >> ((byteIndex % 4) * 8)) & 0xffff

	near, far := float32(clip.Load(0)), float32(clip.Load(1))
	n := (float32(depth) - near) / (far - near)
	r, g, b := depthRamp(n)

	alpha := uint32(255)
	if n < 0 || n > 1 {
		alpha = 0
	}
	output.Store(pixel, packBGRA(toByte(r), toByte(g), toByte(b), alpha))
}

func bgra8ToRGB8(inv gpu.Invocation, bindings []gpu.Storage) {
	input, output := bindings[0], bindings[1]
	word := pixelIndex(inv)
	if word >= output.Len() {
		return
	}

	channel := func(index uint32) uint32 {
		pixel := index / 3
		if pixel >= input.Len() {
			return 0
		}
		shift := (2 - index%3) * 8
		return (input.Load(pixel) >> shift) & 0xff
	}

	base := word * 4
	output.Store(word, channel(base)|channel(base+1)<<8|channel(base+2)<<16|channel(base+3)<<24)
}

// depthRamp maps n in [0,1] through red, yellow, green, cyan and blue.
func depthRamp(n float32) (r, g, b float32) {
	t := min(max(n, 0), 1) * 4
	switch {
	case t < 1:
		return 1, t, 0
	case t < 2:
		return 2 - t, 1, 0
	case t < 3:
		return 0, 1, t - 2
	default:
		return 0, 4 - t, 1
	}
}

func toByte(v float32) uint32 {
	return uint32(math.Floor(float64(v*255 + 0.5)))
}
