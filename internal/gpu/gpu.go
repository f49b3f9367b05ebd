// Package gpu describes the compute device used for pixel conversion.
//
// The types mirror WebGPU: buffers with usage flags, compute pipelines built
// from WGSL kernels, command encoders, a queue and asynchronous buffer
// mapping that must be polled. Backends register themselves by name and are
// opened once into a Context that is passed to every component needing the
// device.
package gpu

import (
	"encoding/binary"
	"errors"
)

// Errors shared by backends.
var (
	ErrInvalidUsage      = errors.New("buffer usage does not permit operation")
	ErrInvalidSize       = errors.New("invalid buffer size or range")
	ErrAlreadyMapped     = errors.New("buffer map already requested")
	ErrNotMapped         = errors.New("buffer is not mapped")
	ErrReleased          = errors.New("object already released")
	ErrDeviceLost        = errors.New("device lost")
	ErrUnknownBackend    = errors.New("unknown gpu backend")
	ErrBackendRegistered = errors.New("gpu backend already registered")
	ErrInvalidDispatch   = errors.New("invalid dispatch")
)

// BufferUsage is a bit set of permitted buffer operations.
type BufferUsage uint32

// Buffer usages.
const (
	BufferUsageMapRead BufferUsage = 1 << iota
	BufferUsageMapWrite
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageUniform
	BufferUsageStorage
)

// Has reports whether all bits of flag are set.
func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

// MapMode selects read or write mapping.
type MapMode uint8

// Map modes.
const (
	MapModeRead MapMode = iota + 1
	MapModeWrite
)

// MapState is the mapping status of a buffer.
type MapState uint8

// Map states.
const (
	MapStateUnmapped MapState = iota
	MapStatePending
	MapStateMapped
	MapStateFailed
)

func (s MapState) String() string {
	switch s {
	case MapStateUnmapped:
		return "unmapped"
	case MapStatePending:
		return "pending"
	case MapStateMapped:
		return "mapped"
	case MapStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// Buffer is device memory.
type Buffer interface {
	Label() string
	Size() uint64
	Usage() BufferUsage

	// MapAsync requests host access. Completion is observed through MapState.
	MapAsync(mode MapMode, offset, size uint64) error
	MapState() MapState
	// MappedRange returns the mapped bytes. Valid until Unmap.
	MappedRange(offset, size uint64) ([]byte, error)
	Unmap()

	Release()
}

// BindingType describes how a kernel binding is accessed.
type BindingType uint8

// Binding types.
const (
	BindingReadOnlyStorage BindingType = iota
	BindingStorage
	BindingUniform
)

// Invocation identifies one workgroup of a dispatch.
type Invocation struct {
	WorkgroupID   [3]uint32
	NumWorkgroups [3]uint32
}

// KernelFunc executes one workgroup on the host. Backends without a shader
// compiler run kernels through it.
type KernelFunc func(inv Invocation, bindings []Storage)

// Kernel is a compute program: WGSL source for shader backends plus an
// equivalent host function for emulating backends.
type Kernel struct {
	Label      string
	EntryPoint string
	WGSL       string
	Bindings   []BindingType
	Emulate    KernelFunc
}

// Pipeline is a compiled kernel.
type Pipeline interface {
	Label() string
	Kernel() *Kernel
	Release()
}

// CommandBuffer is a finished, submittable batch of commands.
type CommandBuffer interface {
	Label() string
}

// CommandEncoder records commands. Validation errors are reported by Finish.
type CommandEncoder interface {
	Dispatch(pipeline Pipeline, bindings []Buffer, x, y, z uint32)
	CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64)
	Finish() (CommandBuffer, error)
}

// Queue orders uploads and submissions.
type Queue interface {
	WriteBuffer(buffer Buffer, offset uint64, data []byte) error
	Submit(commands ...CommandBuffer) error
}

// Limits reports device limits the converter checks against.
type Limits struct {
	MaxBufferSize             uint64
	MaxWorkgroupsPerDimension uint32
}

// Device creates GPU objects.
type Device interface {
	Name() string
	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	CreateComputePipeline(kernel *Kernel) (Pipeline, error)
	CreateCommandEncoder(label string) CommandEncoder
	Queue() Queue
	// Poll lets the device make progress on outstanding work and callbacks.
	Poll()
	Limits() Limits
	Release()
}

// Storage views a buffer as an array of little-endian 32-bit words, the
// only granularity WGSL storage buffers offer.
type Storage []byte

// Len returns the number of whole words.
func (s Storage) Len() uint32 {
	return uint32(len(s) / 4)
}

// Load reads word i.
func (s Storage) Load(i uint32) uint32 {
	return binary.LittleEndian.Uint32(s[i*4:])
}

// Store writes word i.
func (s Storage) Store(i uint32, v uint32) {
	binary.LittleEndian.PutUint32(s[i*4:], v)
}

// AlignSize rounds size up to a multiple of 4 bytes.
func AlignSize(size uint64) uint64 {
	return (size + 3) &^ 3
}
