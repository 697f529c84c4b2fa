package tensorcl

import (
	"sort"

	"github.com/orneryd/tensorcl/pkg/graph"
)

// Reducer implements sum/prod reductions and broadcast_gradient_args.
// Both are host-side: the operand is read back, folded in Go, and the
// result re-uploaded.
type Reducer struct {
	Session *SessionCache
	Factory *Factory
}

// NewReducer binds a Reducer to a session and its buffer factory.
func NewReducer(s *SessionCache, f *Factory) *Reducer {
	return &Reducer{Session: s, Factory: f}
}

// normalizeAxis maps a possibly-negative axis into [0, rank), counting
// negative axes from the end (-1 is the last axis).
func normalizeAxis(x, rank int) int {
	if x < 0 {
		return rank + x
	}
	return x
}

// Reduce folds input along axes with op ("sum" or "prod"), applying
// the fold from the largest axis index to the smallest so that axis
// indices never shift mid-fold. If keepdims, reduced axes are kept as
// size-1 dimensions in the output shape; otherwise they are squeezed
// out entirely.
func (r *Reducer) Reduce(name, op string, input *Buffer, axes []int, keepdims bool) (*Buffer, error) {
	if input.Device != nil {
		ev, err := r.Session.Device.EnqueueReadBuffer(input.Device, input.Host, waitList(input.LastEvent))
		if err != nil {
			return nil, &EvaluatorError{Kind: DeviceError, NodeName: input.Name, Cause: err}
		}
		if ev != nil {
			if err := ev.Wait(); err != nil {
				return nil, &EvaluatorError{Kind: DeviceError, NodeName: input.Name, Cause: err}
			}
		}
	}
	rank := len(input.Shape)
	norm := make(map[int]bool, len(axes))
	for _, x := range axes {
		norm[normalizeAxis(x, rank)] = true
	}
	sorted := make([]int, 0, len(norm))
	for ax := range norm {
		sorted = append(sorted, ax)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	data := hostAsFloat64(input)
	shape := append([]int64(nil), input.Shape...)
	for _, ax := range sorted {
		data, shape = reduceAxis(data, shape, ax, op)
	}

	outShape := shape
	if keepdims {
		outShape = append([]int64(nil), input.Shape...)
		for ax := range norm {
			outShape[ax] = 1
		}
	}

	result, err := r.Factory.ResultBuffer(name, input.DType, graph.Shape(outShape))
	if err != nil {
		return nil, err
	}
	for i, v := range data {
		result.SetElementFromFloat64(i, v)
	}
	if err := r.Factory.enqueueWrite(result); err != nil {
		return nil, err
	}
	return result, nil
}

func hostAsFloat64(b *Buffer) []float64 {
	n := int(elements(b.Shape))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = b.ElementAsFloat64(i)
	}
	return out
}

// reduceAxis folds data (laid out row-major per shape) along axis,
// removing that axis from the returned shape.
func reduceAxis(data []float64, shape []int64, axis int, op string) ([]float64, []int64) {
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= int(shape[i])
	}
	dim := int(shape[axis])
	inner := 1
	for i := axis + 1; i < len(shape); i++ {
		inner *= int(shape[i])
	}

	out := make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			acc := 0.0
			if op == "prod" {
				acc = 1.0
			}
			for d := 0; d < dim; d++ {
				idx := o*dim*inner + d*inner + in
				if op == "prod" {
					acc *= data[idx]
				} else {
					acc += data[idx]
				}
			}
			out[o*inner+in] = acc
		}
	}

	newShape := make([]int64, 0, len(shape)-1)
	newShape = append(newShape, shape[:axis]...)
	newShape = append(newShape, shape[axis+1:]...)
	return out, newShape
}

// BroadcastGradientArgs computes, for each of shapeA and shapeB, the
// reduction axes produced by gradientAxes: the axes (counted with
// shapes right-aligned) on which that operand is larger than the other
// operand, or which the other operand lacks entirely. For identical
// shapes both results are empty.
func BroadcastGradientArgs(shapeA, shapeB graph.Shape) (axesA, axesB []int) {
	if shapeA.Equal(shapeB) {
		return nil, nil
	}
	axesA = gradientAxes(shapeA, shapeB)
	axesB = gradientAxes(shapeB, shapeA)
	return axesA, axesB
}

// gradientAxes implements the asymmetric broadcast-gradient-axis rule
// for a single operand: for every reversed-index i into shape, emit
// rank(shape)-i-1 unless shapeOther[i] agrees with or exceeds
// shape[i]. The rule is intentionally not shape-symmetric — it is
// applied exactly as specified, once per operand with operands
// swapped.
func gradientAxes(shape, other graph.Shape) []int {
	rank := len(shape)
	otherRank := len(other)
	var axes []int
	for i := 0; i < rank; i++ {
		if i >= otherRank {
			axes = append(axes, rank-i-1)
			continue
		}
		shapeVal := shape[rank-1-i]
		otherVal := other[otherRank-1-i]
		switch {
		case otherVal == shapeVal:
		case otherVal > shapeVal:
		default:
			axes = append(axes, rank-i-1)
		}
	}
	return axes
}
