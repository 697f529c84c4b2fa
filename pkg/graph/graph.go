// Package graph defines the tensor-graph surface the evaluator consumes.
//
// Graph construction, automatic differentiation, and the higher-level
// Session façade are deliberately out of scope for this module — they
// are external collaborators. This package only carries the already-built
// data the evaluator reads: named nodes, their operation tag, their
// inputs, their declared dtype/shape, and provenance used for error
// reporting and debug hooks.
package graph

import "fmt"

// DType enumerates the dtypes the evaluator understands.
type DType int

const (
	// Invalid is the zero value; never a valid tensor dtype.
	Invalid DType = iota
	Float32
	Int32
	Bool
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "fp32"
	case Int32:
		return "int32"
	case Bool:
		return "bool"
	default:
		return "invalid"
	}
}

// Shape is an ordered, possibly empty (scalar) sequence of non-negative
// axis lengths.
type Shape []int64

// Rank returns len(s).
func (s Shape) Rank() int { return len(s) }

// Elements returns the product of all axes, or 1 for a scalar shape.
func (s Shape) Elements() int64 {
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	if len(s) == 0 {
		return 1
	}
	return n
}

// Equal reports whether two shapes have identical axes.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// IsScalar reports whether the shape denotes a 0-D or single-element
// tensor (the "is the operand a scalar" test used by kernel variant
// selection).
func (s Shape) IsScalar() bool {
	return len(s) == 0 || s.Elements() == 1
}

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

// Op is a closed operation tag. New operations require extending this
// set and the evaluator's dispatch table — no open-ended reflection.
type Op string

const (
	OpIdentity    Op = "identity"
	OpAssign      Op = "assign"
	OpAssignAdd   Op = "assign_add"
	OpAdd         Op = "add"
	OpSub         Op = "sub"
	OpMul         Op = "mul"
	OpDiv         Op = "div"
	OpPow         Op = "pow"
	OpSigmoidGrad Op = "sigmoid_grad"
	OpSign        Op = "sign"
	OpExp         Op = "exp"
	OpLog         Op = "log"
	OpSin         Op = "sin"
	OpCos         Op = "cos"
	OpTan         Op = "tan"
	OpAbs         Op = "abs"
	OpSqrt        Op = "sqrt"
	OpNegate      Op = "negate"
	OpSquare      Op = "square"
	OpReciprocal  Op = "reciprocal"
	OpTanh        Op = "tanh"
	OpTanhGrad    Op = "tanh_grad"
	OpSigmoid     Op = "sigmoid"
	OpMatMul      Op = "matmul"
	OpZeros       Op = "zeros"
	OpOnes        Op = "ones"
	OpZerosLike   Op = "zeros_like"
	OpOnesLike    Op = "ones_like"
	OpBroadcastTransform     Op = "broadcast_transform"
	OpBroadcastGradientArgs Op = "broadcast_gradient_args"
	OpShape       Op = "shape"
	OpReshape     Op = "reshape"
	OpRandomUniform  Op = "random_uniform"
	OpRandomNormal   Op = "random_normal"
	OpGlorotUniform  Op = "glorot_uniform"
	OpFlowGroup   Op = "flow_group"
	OpSum         Op = "sum"
	OpProd        Op = "prod"
	OpArgMin      Op = "argmin"
	OpArgMax      Op = "argmax"
	OpIndex       Op = "index"
	OpTruncate    Op = "truncate"
)

// Tensor is an immutable graph node: a unique name, an operation tag, an
// ordered list of inputs, an attribute map, a declared dtype/shape, and
// provenance fields consumed by the Error Envelope and the breakpoint
// hook.
type Tensor struct {
	Name      string
	Operation Op
	// Items holds this node's operands. Each element is one of
	// *Tensor, *Variable, *Placeholder, or []any (a nested list,
	// evaluated element-wise) — the evaluator's walker type-switches
	// on it.
	Items      []any
	Options    map[string]any
	DataType   DType
	DeclShape  Shape
	Source     string
	IsConst    bool
	Value      any // literal host value for constants
	Breakpoint func(t *Tensor, hostValue any)
	Graph      *Graph

	// Description is a free-form human label surfaced in debug dumps
	// and the Error Envelope; distinct from Name which is the cache key.
	Description string
}

// Variable is a named tensor with an initial value and a mutable
// assigned-buffer slot. The evaluator reads and writes that slot.
type Variable struct {
	Tensor
	Initial any
}

// Placeholder is a named tensor whose concrete value is supplied per
// evaluation via a feed mapping (Context.Feed).
type Placeholder struct {
	Tensor
}

// Graph groups tensors under a shared identity and optional seed, used
// by the Randomizer to derive session-scoped generators.
type Graph struct {
	ID   string
	Seed *uint64
}

// InferShape is the pure shape-inference collaborator consumed by
// elementwise two-operand operations. It implements right-aligned
// broadcast, same as the broadcast_transform/broadcast kernel variants:
// trailing axes are matched; a 1 (or missing) axis on either side
// broadcasts to the other side's axis.
func InferShape(a, b Shape) (Shape, error) {
	if a.Equal(b) {
		return a, nil
	}
	rank := len(a)
	if len(b) > rank {
		rank = len(b)
	}
	out := make(Shape, rank)
	for i := 0; i < rank; i++ {
		ai := axisFromEnd(a, i)
		bi := axisFromEnd(b, i)
		switch {
		case ai == bi:
			out[rank-1-i] = ai
		case ai == 1:
			out[rank-1-i] = bi
		case bi == 1:
			out[rank-1-i] = ai
		default:
			return nil, fmt.Errorf("graph: incompatible shapes %v and %v", a, b)
		}
	}
	return out, nil
}

// axisFromEnd returns the axis length i positions from the end of s, or
// 1 if s is shorter than that (the standard broadcast default).
func axisFromEnd(s Shape, i int) int64 {
	idx := len(s) - 1 - i
	if idx < 0 {
		return 1
	}
	return s[idx]
}
