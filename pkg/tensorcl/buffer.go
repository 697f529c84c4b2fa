// Package tensorcl is the GPU-accelerated dataflow evaluator core: a
// memoized graph walker that dispatches OpenCL kernels for tensor
// operations, tracks buffer/event dependencies across the command
// queue, and reads results back to host values.
package tensorcl

import (
	"fmt"
	"unsafe"

	"github.com/orneryd/tensorcl/pkg/graph"
	"github.com/orneryd/tensorcl/pkg/opencl"
	"github.com/orneryd/tensorcl/pkg/tensorcl/bufpool"
)

// dtypeSize returns the host-array element width in bytes for a dtype:
// fp32 -> single-precision float, int32 -> signed int, bool -> short.
func dtypeSize(dt graph.DType) (int, error) {
	switch dt {
	case graph.Float32:
		return 4, nil
	case graph.Int32:
		return 4, nil
	case graph.Bool:
		return 2, nil
	default:
		return 0, &EvaluatorError{Kind: UnsupportedDtype, Cause: fmt.Errorf("dtype %v", dt)}
	}
}

// Buffer is the core's device buffer handle: a tagged pairing of a
// host-side typed array, a device-side memory object (or nil when the
// declared shape has zero elements), a declared shape/dtype, a dirty
// flag, and the last event that wrote device memory.
//
// Invariants:
//   - len(Host) bytes == max(1, shape.Elements()) * dtype element size.
//   - Device == nil iff shape.Elements() == 0.
//   - LastEvent is non-nil only while a kernel using Device is
//     outstanding or pending in the queue.
type Buffer struct {
	Name   string
	DType  graph.DType
	Shape  graph.Shape
	Host   []byte
	Device *opencl.MemObject

	LastEvent opencl.Event
	Dirty     bool

	pooled bool // Host came from bufpool and should be returned on Release
}

// elements returns max(1, product(shape)).
func elements(s graph.Shape) int64 {
	n := s.Elements()
	if n == 0 {
		return 1
	}
	return n
}

// NewBuffer allocates a zero-filled host array (and, unless the
// declared shape has zero elements, device memory) for name/dtype/shape.
func NewBuffer(dev *opencl.Device, name string, dt graph.DType, shape graph.Shape) (*Buffer, error) {
	elemSize, err := dtypeSize(dt)
	if err != nil {
		return nil, err
	}
	n := elements(shape)
	hostLen := int(n) * elemSize
	host := bufpool.Get(hostLen)

	var mem *opencl.MemObject
	if shape.Elements() != 0 {
		mem, err = dev.CreateBuffer(hostLen)
		if err != nil {
			return nil, &EvaluatorError{Kind: DeviceError, NodeName: name, Cause: err}
		}
	}
	return &Buffer{Name: name, DType: dt, Shape: shape, Host: host, Device: mem, pooled: true}, nil
}

// Release returns pooled host-array storage to bufpool. It must only be
// called for buffers that will never be looked up again (scratch
// buffers); SessionCache-held buffers live for the evaluator's lifetime
// and are never released mid-session.
func (b *Buffer) Release() {
	if b == nil || !b.pooled || b.Host == nil {
		return
	}
	bufpool.Put(b.Host)
	b.Host = nil
	b.pooled = false
}

// Float32 views Host as a []float32 slice. Panics if DType != Float32.
func (b *Buffer) Float32() []float32 {
	if b.DType != graph.Float32 {
		panic("tensorcl: Float32() on non-fp32 buffer")
	}
	return asFloat32(b.Host)
}

// Int32 views Host as a []int32 slice. Panics if DType != Int32.
func (b *Buffer) Int32() []int32 {
	if b.DType != graph.Int32 {
		panic("tensorcl: Int32() on non-int32 buffer")
	}
	return asInt32(b.Host)
}

// Bool views Host as a []int16 slice (bools are stored as shorts).
// Panics if DType != Bool.
func (b *Buffer) Bool() []int16 {
	if b.DType != graph.Bool {
		panic("tensorcl: Bool() on non-bool buffer")
	}
	return asInt16(b.Host)
}

func asFloat32(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func asInt32(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func asInt16(b []byte) []int16 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int16)(unsafe.Pointer(&b[0])), len(b)/2)
}

// ElementAsFloat64 reads logical index i as a float64 regardless of
// dtype, used by host-side control-flow ops (reshape/-1 inference,
// reductions, argmin/argmax, broadcast, truncate) that must read device
// results back to host before branching on them.
func (b *Buffer) ElementAsFloat64(i int) float64 {
	switch b.DType {
	case graph.Float32:
		return float64(b.Float32()[i])
	case graph.Int32:
		return float64(b.Int32()[i])
	case graph.Bool:
		return float64(b.Bool()[i])
	default:
		return 0
	}
}

// SetElementFromFloat64 writes a float64 into logical index i,
// converting to the buffer's dtype.
func (b *Buffer) SetElementFromFloat64(i int, v float64) {
	switch b.DType {
	case graph.Float32:
		b.Float32()[i] = float32(v)
	case graph.Int32:
		b.Int32()[i] = int32(v)
	case graph.Bool:
		if v != 0 {
			b.Bool()[i] = 1
		} else {
			b.Bool()[i] = 0
		}
	}
}
