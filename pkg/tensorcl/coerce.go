package tensorcl

import (
	"github.com/orneryd/tensorcl/pkg/graph"
	"github.com/orneryd/tensorcl/pkg/opencl"
)

// Coercer handles operand dtype mismatches: when two operand buffers
// disagree on dtype, it enqueues a cast kernel to bring the
// non-canonical operand into the canonical operand's dtype family
// before dispatch. Only the float32/int32 pair is cast; operands of
// any other mismatch are returned unchanged.
type Coercer struct {
	Session *SessionCache
	Factory *Factory
}

// NewCoercer binds a Coercer to a session and its buffer factory.
func NewCoercer(s *SessionCache, f *Factory) *Coercer {
	return &Coercer{Session: s, Factory: f}
}

// Coerce returns (a, b) unchanged if they already share a dtype.
// Otherwise it always casts b into a's dtype family: a floating, b
// integer casts via cast_int_fp; a integer, b floating casts via
// cast_fp_int. Any other mismatch is left unchanged, a documented
// limitation.
func (c *Coercer) Coerce(name string, a, b *Buffer) (*Buffer, *Buffer, error) {
	if a.DType == b.DType {
		return a, b, nil
	}
	if a.DType == graph.Float32 && b.DType == graph.Int32 {
		castB, err := c.cast(name+"_cast_b", b, graph.Int32, graph.Float32)
		if err != nil {
			return nil, nil, err
		}
		return a, castB, nil
	}
	if a.DType == graph.Int32 && b.DType == graph.Float32 {
		castB, err := c.cast(name+"_cast_b", b, graph.Float32, graph.Int32)
		if err != nil {
			return nil, nil, err
		}
		return a, castB, nil
	}
	return a, b, nil
}

func (c *Coercer) cast(name string, src *Buffer, from, to graph.DType) (*Buffer, error) {
	dst, err := c.Factory.ResultBuffer(name, to, src.Shape)
	if err != nil {
		return nil, err
	}

	entry := "cast_int_fp"
	if from == graph.Float32 {
		entry = "cast_fp_int"
	}
	kernel, err := c.Session.Kernels.Kernel("cast", entry)
	if err != nil {
		return nil, wrapNode(name, "", &EvaluatorError{Kind: KernelBuildFailure, Cause: err})
	}

	m, n := shapeMN(src.Shape)
	wait := waitList(src.LastEvent)
	ev, err := c.Session.Device.EnqueueKernel(kernel, []int32{int32(m), int32(n)},
		[]*opencl.MemObject{src.Device, dst.Device}, [2]int{m, n}, wait)
	if err != nil {
		return nil, wrapNode(name, "", &EvaluatorError{Kind: DeviceError, Cause: err})
	}
	dst.LastEvent = ev
	return dst, nil
}
