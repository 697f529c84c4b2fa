package tensorcl

import (
	"fmt"

	"github.com/orneryd/tensorcl/pkg/graph"
	"github.com/orneryd/tensorcl/pkg/opencl"
)

// Dispatcher selects a kernel variant for a given elementwise/matmul/
// unary op, packs scalar arguments, enqueues the kernel, and records
// the output event.
type Dispatcher struct {
	Session *SessionCache
	Factory *Factory
}

// NewDispatcher binds a Dispatcher to a session and its buffer factory.
func NewDispatcher(s *SessionCache, f *Factory) *Dispatcher {
	return &Dispatcher{Session: s, Factory: f}
}

func dtypeSuffix(dt graph.DType) (string, error) {
	switch dt {
	case graph.Float32:
		return "fp", nil
	case graph.Int32, graph.Bool:
		return "int", nil
	default:
		return "", &EvaluatorError{Kind: UnsupportedDtype, Cause: fmt.Errorf("dtype %v", dt)}
	}
}

// shapeMN projects a shape onto the 2-D (M, N) work-size space the
// kernel argument contract assumes: rank 0 -> (1,1), rank 1 -> (1, n),
// rank >= 2 -> the first two axes.
func shapeMN(s graph.Shape) (m, n int) {
	switch len(s) {
	case 0:
		return 1, 1
	case 1:
		return 1, int(s[0])
	default:
		return int(s[0]), int(s[1])
	}
}

// variantChoice is the resolved kernel variant for a two-operand
// elementwise op: which suffix to use, the switch flag, and the
// canonical (first, second) operand order passed as kernel args A, B.
type variantChoice struct {
	suffix string // "", "_c", or "_b"
	sw     int32
	first  *Buffer
	second *Buffer
}

// chooseVariant picks the same-shape, scalar (_c), or broadcast (_b)
// kernel variant for a pair of operand buffers.
func chooseVariant(a, b *Buffer) (variantChoice, error) {
	if a.Shape.Equal(b.Shape) {
		return variantChoice{suffix: "", sw: 0, first: a, second: b}, nil
	}
	if a.Shape.IsScalar() {
		return variantChoice{suffix: "_c", sw: 1, first: b, second: a}, nil
	}
	if b.Shape.IsScalar() {
		return variantChoice{suffix: "_c", sw: 0, first: a, second: b}, nil
	}
	if len(a.Shape) > 2 || len(b.Shape) > 2 {
		return variantChoice{}, &EvaluatorError{Kind: RankError, Cause: fmt.Errorf("broadcast is only defined for ranks <= 2, got %d and %d", len(a.Shape), len(b.Shape))}
	}
	if len(a.Shape) < len(b.Shape) {
		return variantChoice{suffix: "_b", sw: 1, first: b, second: a}, nil
	}
	if len(a.Shape) == len(b.Shape) {
		for i := 0; i < len(a.Shape); i++ {
			if a.Shape[i] == b.Shape[i] {
				continue
			}
			if a.Shape[i] < b.Shape[i] {
				return variantChoice{suffix: "_b", sw: 1, first: b, second: a}, nil
			}
			break
		}
	}
	return variantChoice{suffix: "_b", sw: 0, first: a, second: b}, nil
}

// Binary enqueues a two-operand elementwise op. a and b must already
// be type-coerced to a common dtype (see Coerce).
func (d *Dispatcher) Binary(op graph.Op, name string, a, b *Buffer) (*Buffer, error) {
	variant, err := chooseVariant(a, b)
	if err != nil {
		return nil, wrapNode(name, "", err)
	}

	resultShape, err := graph.InferShape(a.Shape, b.Shape)
	if err != nil {
		return nil, wrapNode(name, "", err)
	}
	result, err := d.Factory.ResultBuffer(name, a.DType, resultShape)
	if err != nil {
		return nil, err
	}

	suffix, err := dtypeSuffix(a.DType)
	if err != nil {
		return nil, wrapNode(name, "", err)
	}
	entry := fmt.Sprintf("%s%s_%s", op, variant.suffix, suffix)
	kernel, err := d.Session.Kernels.Kernel(string(op), entry)
	if err != nil {
		return nil, wrapNode(name, "", &EvaluatorError{Kind: KernelBuildFailure, Cause: err})
	}

	m, n := shapeMN(resultShape)
	var scalarArgs []int32
	if variant.suffix == "_b" {
		m2, n2 := shapeMN(variant.second.Shape)
		scalarArgs = []int32{int32(m), int32(n), int32(m2), int32(n2), variant.sw}
	} else {
		scalarArgs = []int32{int32(m), int32(n), variant.sw}
	}

	wait := waitList(variant.first.LastEvent, variant.second.LastEvent)
	ev, err := d.Session.Device.EnqueueKernel(kernel, scalarArgs,
		[]*opencl.MemObject{variant.first.Device, variant.second.Device, result.Device},
		[2]int{m, n}, wait)
	if err != nil {
		return nil, wrapNode(name, "", &EvaluatorError{Kind: DeviceError, Cause: err})
	}
	result.LastEvent = ev
	return result, nil
}

// Unary enqueues a single-operand elementwise op.
func (d *Dispatcher) Unary(op graph.Op, name string, a *Buffer) (*Buffer, error) {
	result, err := d.Factory.ResultBuffer(name, a.DType, a.Shape)
	if err != nil {
		return nil, err
	}
	suffix, err := dtypeSuffix(a.DType)
	if err != nil {
		return nil, wrapNode(name, "", err)
	}
	entry := fmt.Sprintf("%s_%s", op, suffix)
	kernel, err := d.Session.Kernels.Kernel(string(op), entry)
	if err != nil {
		return nil, wrapNode(name, "", &EvaluatorError{Kind: KernelBuildFailure, Cause: err})
	}

	m, n := shapeMN(a.Shape)
	wait := waitList(a.LastEvent)
	ev, err := d.Session.Device.EnqueueKernel(kernel, []int32{int32(m), int32(n)},
		[]*opencl.MemObject{a.Device, result.Device}, [2]int{m, n}, wait)
	if err != nil {
		return nil, wrapNode(name, "", &EvaluatorError{Kind: DeviceError, Cause: err})
	}
	result.LastEvent = ev
	return result, nil
}

// MatMul enqueues a GEMM kernel. m, k, v, n are the caller-derived
// operand dimensions; MatMul itself still rejects disagreeing inner
// dimensions (k != v) before dispatch.
func (d *Dispatcher) MatMul(name string, a, b *Buffer, m, k, v, n int, transposeA, transposeB bool) (*Buffer, error) {
	if k != v {
		return nil, wrapNode(name, "", &EvaluatorError{Kind: ShapeMismatch, Cause: fmt.Errorf("matmul inner dims disagree: %d != %d", k, v)})
	}
	resultShape := graph.Shape{int64(m), int64(n)}
	result, err := d.Factory.ResultBuffer(name, a.DType, resultShape)
	if err != nil {
		return nil, err
	}

	family := "gemm_fp"
	if a.DType != graph.Float32 {
		family = "gemm_int"
	}
	kernel, err := d.Session.Kernels.Kernel("gemm", family)
	if err != nil {
		return nil, wrapNode(name, "", &EvaluatorError{Kind: KernelBuildFailure, Cause: err})
	}

	ta, tb := int32(0), int32(0)
	if transposeA {
		ta = 1
	}
	if transposeB {
		tb = 1
	}
	wait := waitList(a.LastEvent, b.LastEvent)
	ev, err := d.Session.Device.EnqueueKernel(kernel, []int32{int32(m), int32(n), int32(k), ta, tb},
		[]*opencl.MemObject{a.Device, b.Device, result.Device}, [2]int{m, n}, wait)
	if err != nil {
		return nil, wrapNode(name, "", &EvaluatorError{Kind: DeviceError, Cause: err})
	}
	result.LastEvent = ev
	return result, nil
}
