package convert

import (
	"encoding/binary"
	"fmt"

	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/gpu"
)

// uniformSize is the depth clip block, {near, far} padded to 16 bytes.
const uniformSize = 16

// Job is one conversion and the device buffers it owns until it finishes.
type Job struct {
	Input  frame.Format
	Output frame.Format
	Depth  *DepthParams

	kernel   *gpu.Kernel
	input    gpu.Buffer
	output   gpu.Buffer
	readback gpu.Buffer
	uniform  gpu.Buffer
}

func (j *Job) kind() string {
	return j.kernel.Label
}

func (j *Job) allocate(device gpu.Device) error {
	inSize := gpu.AlignSize(j.Input.ByteSize())
	outSize := gpu.AlignSize(j.Output.ByteSize())

	create := func(dst *gpu.Buffer, desc gpu.BufferDescriptor) error {
		buf, err := device.CreateBuffer(desc)
		if err != nil {
			j.release()
			return fmt.Errorf("create %s buffer: %w", desc.Label, err)
		}
		*dst = buf
		return nil
	}

	if err := create(&j.input, gpu.BufferDescriptor{Label: "convert input", Size: inSize, Usage: gpu.BufferUsageStorage | gpu.BufferUsageCopyDst}); err != nil {
		return err
	}
	if err := create(&j.output, gpu.BufferDescriptor{Label: "convert output", Size: outSize, Usage: gpu.BufferUsageStorage | gpu.BufferUsageCopySrc}); err != nil {
		return err
	}
	if err := create(&j.readback, gpu.BufferDescriptor{Label: "convert readback", Size: outSize, Usage: gpu.BufferUsageMapRead | gpu.BufferUsageCopyDst}); err != nil {
		return err
	}
	if j.Depth != nil {
		if err := create(&j.uniform, gpu.BufferDescriptor{Label: "convert depth clip", Size: uniformSize, Usage: gpu.BufferUsageUniform | gpu.BufferUsageCopyDst}); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) bindings() []gpu.Buffer {
	if j.uniform != nil {
		return []gpu.Buffer{j.input, j.output, j.uniform}
	}
	return []gpu.Buffer{j.input, j.output}
}

func (j *Job) uniformBytes() []byte {
	b := make([]byte, uniformSize)
	binary.LittleEndian.PutUint32(b[0:], j.Depth.ClipNear)
	binary.LittleEndian.PutUint32(b[4:], j.Depth.ClipFar)
	return b
}

func (j *Job) release() {
	for _, buf := range []*gpu.Buffer{&j.input, &j.output, &j.readback, &j.uniform} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
}
