package tensorcl

import (
	"fmt"
	"math"

	"github.com/orneryd/tensorcl/pkg/graph"
	"github.com/orneryd/tensorcl/pkg/opencl"
	"github.com/orneryd/tensorcl/pkg/tensorcl/kernels"
)

// Evaluator is a recursive, memoized graph walker that dispatches per
// operation kind, owns variable assignment, reductions, random
// generators, and shape operations, and wires the Kernel Dispatcher /
// Type Coercion / Buffer Factory / Reducer / Randomizer components
// together.
type Evaluator struct {
	Session    *SessionCache
	Factory    *Factory
	Dispatcher *Dispatcher
	Coercer    *Coercer
	Reducer    *Reducer
	Randomizer *Randomizer

	// Checkpoints is nil unless WithCheckpointStore was supplied to
	// Open; SaveCheckpoint/LoadCheckpoint are no-ops without one.
	Checkpoints CheckpointStore
	SessionID   string
	logIntermed bool
}

// NewEvaluator wires an Evaluator around an already-open device and
// kernel registry. The caller opens the device (Open does so before
// any run); the evaluator reuses it for every run.
func NewEvaluator(dev *opencl.Device, reg *kernels.Registry) *Evaluator {
	session := NewSessionCache(dev, reg)
	factory := NewFactory(session)
	return &Evaluator{
		Session:    session,
		Factory:    factory,
		Dispatcher: NewDispatcher(session, factory),
		Coercer:    NewCoercer(session, factory),
		Reducer:    NewReducer(session, factory),
		Randomizer: NewRandomizer(session),
	}
}

// Run is the public contract: run(tensor, ctx) -> host_value. It is
// reentrant on distinct contexts.
func (e *Evaluator) Run(t *graph.Tensor, ctx *Context) (any, error) {
	buf, err := e.run(t, ctx)
	if err != nil {
		return nil, err
	}
	return e.ToHost(buf)
}

// run is the internal walker `_run(node, ctx)`.
func (e *Evaluator) run(node any, ctx *Context) (*Buffer, error) {
	switch n := node.(type) {
	case nil:
		return nil, nil
	case *Buffer:
		return n, nil
	case *graph.Variable:
		return e.evalVariable(n, ctx)
	case *graph.Placeholder:
		return e.evalPlaceholder(n, ctx)
	case *graph.Tensor:
		return e.evalTensor(n, ctx)
	default:
		return nil, fmt.Errorf("tensorcl: unrecognized node type %T", node)
	}
}

// runList maps run element-wise over a (possibly nested) item list.
func (e *Evaluator) runList(items []any, ctx *Context) ([]*Buffer, error) {
	out := make([]*Buffer, 0, len(items))
	for _, item := range items {
		if nested, ok := item.([]any); ok {
			sub, err := e.runList(nested, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		b, err := e.run(item, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// resolver closes over ctx to satisfy ResolveTensor: fully evaluating
// a nested tensor reference found inside a literal value to its host
// form, within the caller's execution context.
func (e *Evaluator) resolver(ctx *Context) ResolveTensor {
	return func(t *graph.Tensor) (any, error) {
		buf, err := e.run(t, ctx)
		if err != nil {
			return nil, err
		}
		return e.ToHost(buf)
	}
}

func item(t *graph.Tensor, i int) any {
	if i < 0 || i >= len(t.Items) {
		return nil
	}
	return t.Items[i]
}

// evalTensor dispatches a plain Tensor node: a literal constant/input
// when Operation is unset, else eval_operation.
func (e *Evaluator) evalTensor(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	if ctx.Retain[t.Name] {
		if b, ok := ctx.memo(t.Name); ok {
			return b, nil
		}
	}
	if b, ok := ctx.memo(t.Name); ok {
		return b, nil
	}

	var result *Buffer
	var err error
	if t.Operation == "" {
		result, err = e.Factory.Convert(t.Name, t.DataType, t.DeclShape, t.Value, e.resolver(ctx))
	} else {
		result, err = e.evalOperation(t, ctx)
	}
	if err != nil {
		return nil, wrapNode(t.Name, t.Source, err)
	}

	ctx.setMemo(t.Name, result)
	if t.IsConst {
		e.Session.PutBuffer(t.Name, t.DeclShape, result)
	}
	if t.Breakpoint != nil {
		host, _ := e.ToHost(result)
		t.Breakpoint(t, host)
	}
	if ctx.LogIntermediates {
		host, _ := e.ToHost(result)
		ctx.History = append(ctx.History, HistoryEntry{
			Name: t.Name, DType: result.DType, Shape: result.Shape,
			Source: t.Source, Description: t.Description, HostValue: host,
		})
	}
	return result, nil
}

// evalVariable materializes a Variable's buffer on first use, consulting
// the configured CheckpointStore before falling back to the Variable's
// initial value, and fails fast if neither yields a value.
func (e *Evaluator) evalVariable(v *graph.Variable, ctx *Context) (*Buffer, error) {
	if b, ok := ctx.memo(v.Name); ok {
		return b, nil
	}
	buf, ok := e.Session.Variable(v.Name)
	if !ok {
		restored, err := e.LoadCheckpoint(v.Name)
		if err != nil {
			return nil, wrapNode(v.Name, v.Source, err)
		}
		if restored {
			buf, _ = e.Session.Variable(v.Name)
		} else {
			if v.Initial == nil {
				return nil, wrapNode(v.Name, v.Source, &EvaluatorError{
					Kind: UninitializedVariable, Cause: fmt.Errorf("variable %q has no assigned or initial value", v.Name),
				})
			}
			buf, err = e.Factory.Convert(v.Name, v.DataType, v.DeclShape, v.Initial, e.resolver(ctx))
			if err != nil {
				return nil, wrapNode(v.Name, v.Source, err)
			}
			buf.Dirty = true
			e.Session.SetVariable(v.Name, buf)
		}
	}
	ctx.setMemo(v.Name, buf)
	return buf, nil
}

// evalPlaceholder uploads the fed value as a Device Buffer.
func (e *Evaluator) evalPlaceholder(p *graph.Placeholder, ctx *Context) (*Buffer, error) {
	if b, ok := ctx.memo(p.Name); ok {
		return b, nil
	}
	val, err := ctx.feedValue(p.Name)
	if err != nil {
		return nil, err
	}
	buf, err := e.Factory.Convert(p.Name, p.DataType, p.DeclShape, val, e.resolver(ctx))
	if err != nil {
		return nil, wrapNode(p.Name, p.Source, err)
	}
	ctx.setMemo(p.Name, buf)
	return buf, nil
}

// evalOperation is the large dispatch keyed on the op tag.
func (e *Evaluator) evalOperation(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	switch t.Operation {
	case graph.OpIdentity:
		return e.run(item(t, 0), ctx)
	case graph.OpAssign:
		return e.opAssign(t, ctx)
	case graph.OpAssignAdd:
		return e.opAssignAdd(t, ctx)
	case graph.OpAdd, graph.OpSub, graph.OpMul, graph.OpDiv, graph.OpPow, graph.OpSigmoidGrad:
		return e.opBinary(t, ctx)
	case graph.OpSign, graph.OpExp, graph.OpLog, graph.OpSin, graph.OpCos, graph.OpTan,
		graph.OpAbs, graph.OpSqrt, graph.OpNegate, graph.OpSquare, graph.OpReciprocal,
		graph.OpTanh, graph.OpTanhGrad, graph.OpSigmoid:
		return e.opUnary(t, ctx)
	case graph.OpMatMul:
		return e.opMatMul(t, ctx)
	case graph.OpZeros, graph.OpOnes, graph.OpZerosLike, graph.OpOnesLike:
		return e.opFill(t, ctx)
	case graph.OpBroadcastTransform:
		return e.opBroadcastTransform(t, ctx)
	case graph.OpBroadcastGradientArgs:
		return e.opBroadcastGradientArgs(t, ctx)
	case graph.OpShape:
		return e.opShape(t, ctx)
	case graph.OpReshape:
		return e.opReshape(t, ctx)
	case graph.OpRandomUniform, graph.OpRandomNormal, graph.OpGlorotUniform:
		return e.opRandom(t, ctx)
	case graph.OpFlowGroup:
		return e.opFlowGroup(t, ctx)
	case graph.OpSum, graph.OpProd:
		return e.opReduce(t, ctx)
	case graph.OpArgMin, graph.OpArgMax:
		return e.opArgExtreme(t, ctx)
	case graph.OpIndex:
		return e.opIndex(t, ctx)
	case graph.OpTruncate:
		return e.opTruncate(t, ctx)
	default:
		return nil, &EvaluatorError{Kind: UnknownOp, NodeName: t.Name, NodeSource: t.Source, Cause: fmt.Errorf("unknown operation %q", t.Operation)}
	}
}

func (e *Evaluator) opBinary(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	b, err := e.run(item(t, 1), ctx)
	if err != nil {
		return nil, err
	}
	a, b, err = e.Coercer.Coerce(t.Name, a, b)
	if err != nil {
		return nil, err
	}
	return e.Dispatcher.Binary(t.Operation, t.Name, a, b)
}

func (e *Evaluator) opUnary(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	return e.Dispatcher.Unary(t.Operation, t.Name, a)
}

func (e *Evaluator) opMatMul(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	b, err := e.run(item(t, 1), ctx)
	if err != nil {
		return nil, err
	}
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, wrapNode(t.Name, t.Source, &EvaluatorError{
			Kind: RankError, Cause: fmt.Errorf("matmul requires rank >= 2, got %d and %d", len(a.Shape), len(b.Shape)),
		})
	}
	transposeA, _ := t.Options["transpose_a"].(bool)
	transposeB, _ := t.Options["transpose_b"].(bool)

	m, k := int(a.Shape[len(a.Shape)-2]), int(a.Shape[len(a.Shape)-1])
	if transposeA {
		m, k = k, m
	}
	v, n := int(b.Shape[len(b.Shape)-2]), int(b.Shape[len(b.Shape)-1])
	if transposeB {
		v, n = n, v
	}

	a, b, err = e.Coercer.Coerce(t.Name, a, b)
	if err != nil {
		return nil, err
	}
	return e.Dispatcher.MatMul(t.Name, a, b, m, k, v, n, transposeA, transposeB)
}

func (e *Evaluator) opFill(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	shape := t.DeclShape
	like := t.Operation == graph.OpZerosLike || t.Operation == graph.OpOnesLike
	if like {
		src, err := e.run(item(t, 0), ctx)
		if err != nil {
			return nil, err
		}
		shape = src.Shape
	}
	value := 0.0
	if t.Operation == graph.OpOnes || t.Operation == graph.OpOnesLike {
		value = 1.0
	}

	result, err := e.Factory.ResultBuffer(t.Name, t.DataType, shape)
	if err != nil {
		return nil, err
	}
	n := int(elements(shape))
	for i := 0; i < n; i++ {
		result.SetElementFromFloat64(i, value)
	}
	if err := e.Factory.enqueueWrite(result); err != nil {
		return nil, err
	}
	return result, nil
}

// opBroadcastTransform implements broadcast_transform(a,b): if shapes
// already agree, a is returned unchanged and b is exposed under the
// sibling key "<name>#b" for callers needing the pair. Otherwise both
// operands are host-broadcast to their common shape and re-uploaded.
func (e *Evaluator) opBroadcastTransform(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	b, err := e.run(item(t, 1), ctx)
	if err != nil {
		return nil, err
	}
	if a.Shape.Equal(b.Shape) {
		ctx.setMemo(t.Name+"#b", b)
		return a, nil
	}

	target, err := graph.InferShape(a.Shape, b.Shape)
	if err != nil {
		return nil, wrapNode(t.Name, t.Source, &EvaluatorError{Kind: ShapeMismatch, Cause: err})
	}
	aHost := broadcastHost(a, target)
	bHost := broadcastHost(b, target)

	aOut, err := e.Factory.ResultBuffer(t.Name, a.DType, target)
	if err != nil {
		return nil, err
	}
	for i, val := range aHost {
		aOut.SetElementFromFloat64(i, val)
	}
	if err := e.Factory.enqueueWrite(aOut); err != nil {
		return nil, err
	}

	bOut, err := e.Factory.ResultBuffer(t.Name+"#b", b.DType, target)
	if err != nil {
		return nil, err
	}
	for i, val := range bHost {
		bOut.SetElementFromFloat64(i, val)
	}
	if err := e.Factory.enqueueWrite(bOut); err != nil {
		return nil, err
	}
	ctx.setMemo(t.Name+"#b", bOut)
	return aOut, nil
}

// opBroadcastGradientArgs uploads reduction-axes(a) as the node's own
// int32 result and reduction-axes(b) under the sibling key "<name>#b".
func (e *Evaluator) opBroadcastGradientArgs(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	b, err := e.run(item(t, 1), ctx)
	if err != nil {
		return nil, err
	}
	axesA, axesB := BroadcastGradientArgs(a.Shape, b.Shape)

	bufA, err := e.Factory.ResultBuffer(t.Name, graph.Int32, graph.Shape{int64(len(axesA))})
	if err != nil {
		return nil, err
	}
	for i, v := range axesA {
		bufA.SetElementFromFloat64(i, float64(v))
	}
	if err := e.Factory.enqueueWrite(bufA); err != nil {
		return nil, err
	}

	bufB, err := e.Factory.ResultBuffer(t.Name+"#b", graph.Int32, graph.Shape{int64(len(axesB))})
	if err != nil {
		return nil, err
	}
	for i, v := range axesB {
		bufB.SetElementFromFloat64(i, float64(v))
	}
	if err := e.Factory.enqueueWrite(bufB); err != nil {
		return nil, err
	}
	ctx.setMemo(t.Name+"#b", bufB)
	return bufA, nil
}

func (e *Evaluator) opShape(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	dt := t.DataType
	if dt == graph.Invalid {
		dt = graph.Int32
	}
	out, err := e.Factory.ResultBuffer(t.Name, dt, graph.Shape{int64(len(a.Shape))})
	if err != nil {
		return nil, err
	}
	for i, d := range a.Shape {
		out.SetElementFromFloat64(i, float64(d))
	}
	if err := e.Factory.enqueueWrite(out); err != nil {
		return nil, err
	}
	return out, nil
}

// opReshape reads new_shape to host, infers any -1 axis, and returns a
// view over a's existing storage carrying the new shape — no data
// movement. The view is a distinct *Buffer so the cached original is
// never mutated.
func (e *Evaluator) opReshape(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	shapeBuf, err := e.run(item(t, 1), ctx)
	if err != nil {
		return nil, err
	}
	host, err := e.ToHost(shapeBuf)
	if err != nil {
		return nil, err
	}
	raw, err := flattenToFloat64(host, nil)
	if err != nil {
		return nil, err
	}

	newShape := make(graph.Shape, len(raw))
	unknownIdx := -1
	known := int64(1)
	for i, v := range raw {
		d := int64(v)
		if d == -1 {
			unknownIdx = i
			continue
		}
		newShape[i] = d
		known *= d
	}
	if unknownIdx >= 0 {
		if known == 0 {
			known = 1
		}
		newShape[unknownIdx] = elements(a.Shape) / known
	}

	return &Buffer{
		Name: t.Name, DType: a.DType, Shape: newShape,
		Host: a.Host, Device: a.Device, LastEvent: a.LastEvent, Dirty: a.Dirty,
	}, nil
}

func (e *Evaluator) opRandom(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	var graphID string
	var graphSeed *uint64
	if t.Graph != nil {
		graphID = t.Graph.ID
		graphSeed = t.Graph.Seed
	}
	var opSeed *uint64
	if v, ok := t.Options["seed"]; ok {
		switch s := v.(type) {
		case uint64:
			seed := s
			opSeed = &seed
		case int:
			seed := uint64(s)
			opSeed = &seed
		}
	}
	rng := e.Randomizer.Source(graphID, graphSeed, string(t.Operation)+":"+t.Name, opSeed)

	result, err := e.Factory.ResultBuffer(t.Name, t.DataType, t.DeclShape)
	if err != nil {
		return nil, err
	}
	n := int(elements(t.DeclShape))

	switch t.Operation {
	case graph.OpRandomUniform:
		lo, hi := 0.0, 1.0
		if v, ok := t.Options["minval"].(float64); ok {
			lo = v
		}
		if v, ok := t.Options["maxval"].(float64); ok {
			hi = v
		}
		for i := 0; i < n; i++ {
			result.SetElementFromFloat64(i, lo+rng.Float64()*(hi-lo))
		}
	case graph.OpRandomNormal:
		mean, stddev := 0.0, 1.0
		if v, ok := t.Options["mean"].(float64); ok {
			mean = v
		}
		if v, ok := t.Options["stddev"].(float64); ok {
			stddev = v
		}
		for i := 0; i < n; i++ {
			result.SetElementFromFloat64(i, mean+rng.NormFloat64()*stddev)
		}
	case graph.OpGlorotUniform:
		fanIn, fanOut := glorotFans(t.DeclShape)
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		for i := 0; i < n; i++ {
			result.SetElementFromFloat64(i, (rng.Float64()*2-1)*limit)
		}
	}
	if err := e.Factory.enqueueWrite(result); err != nil {
		return nil, err
	}
	return result, nil
}

func glorotFans(shape graph.Shape) (int, int) {
	switch len(shape) {
	case 0:
		return 1, 1
	case 1:
		return 1, int(shape[0])
	default:
		return int(shape[0]), int(shape[len(shape)-1])
	}
}

func (e *Evaluator) opFlowGroup(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	bufs, err := e.runList(t.Items, ctx)
	if err != nil {
		return nil, err
	}
	if len(bufs) == 0 {
		return nil, nil
	}
	return bufs[len(bufs)-1], nil
}

func (e *Evaluator) opReduce(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	keepdims, _ := t.Options["keepdims"].(bool)
	var axes []int
	if raw, ok := t.Options["axis"]; ok && raw != nil {
		axes = intOption(raw)
	} else {
		axes = make([]int, len(a.Shape))
		for i := range axes {
			axes[i] = i
		}
	}
	op := "sum"
	if t.Operation == graph.OpProd {
		op = "prod"
	}
	return e.Reducer.Reduce(t.Name, op, a, axes, keepdims)
}

func (e *Evaluator) opArgExtreme(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	axis := 0
	if v, ok := t.Options["axis"].(int); ok {
		axis = v
	}
	idxs, outShape, err := argExtreme(a, axis, t.Operation == graph.OpArgMax)
	if err != nil {
		return nil, wrapNode(t.Name, t.Source, &EvaluatorError{Kind: RankError, Cause: err})
	}
	out, err := e.Factory.ResultBuffer(t.Name, graph.Int32, outShape)
	if err != nil {
		return nil, err
	}
	for i, v := range idxs {
		out.SetElementFromFloat64(i, float64(v))
	}
	if err := e.Factory.enqueueWrite(out); err != nil {
		return nil, err
	}
	return out, nil
}

func argExtreme(buf *Buffer, axis int, max bool) ([]int, graph.Shape, error) {
	rank := len(buf.Shape)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, nil, fmt.Errorf("axis %d out of range for rank %d", axis, rank)
	}

	outer := 1
	for i := 0; i < axis; i++ {
		outer *= int(buf.Shape[i])
	}
	dim := int(buf.Shape[axis])
	inner := 1
	for i := axis + 1; i < rank; i++ {
		inner *= int(buf.Shape[i])
	}

	out := make([]int, outer*inner)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			bestIdx := 0
			bestVal := buf.ElementAsFloat64(o*dim*inner + in)
			for d := 1; d < dim; d++ {
				v := buf.ElementAsFloat64(o*dim*inner + d*inner + in)
				if (max && v > bestVal) || (!max && v < bestVal) {
					bestVal = v
					bestIdx = d
				}
			}
			out[o*inner+in] = bestIdx
		}
	}

	outShape := make(graph.Shape, 0, rank-1)
	outShape = append(outShape, buf.Shape[:axis]...)
	outShape = append(outShape, buf.Shape[axis+1:]...)
	return out, outShape, nil
}

func (e *Evaluator) opIndex(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	iBuf, err := e.run(item(t, 1), ctx)
	if err != nil {
		return nil, err
	}
	idxHost, err := e.ToHost(iBuf)
	if err != nil {
		return nil, err
	}
	idx := int(toFloat64(idxHost))

	if len(a.Shape) == 0 {
		return nil, wrapNode(t.Name, t.Source, &EvaluatorError{Kind: RankError, Cause: fmt.Errorf("index requires rank >= 1")})
	}
	outShape := append(graph.Shape{}, a.Shape[1:]...)
	stride := int(elements(outShape))
	out, err := e.Factory.ResultBuffer(t.Name, a.DType, outShape)
	if err != nil {
		return nil, err
	}
	base := idx * stride
	for i := 0; i < stride; i++ {
		out.SetElementFromFloat64(i, a.ElementAsFloat64(base+i))
	}
	if err := e.Factory.enqueueWrite(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Evaluator) opTruncate(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	a, err := e.run(item(t, 0), ctx)
	if err != nil {
		return nil, err
	}
	bBuf, err := e.run(item(t, 1), ctx)
	if err != nil {
		return nil, err
	}
	bHost, err := e.ToHost(bBuf)
	if err != nil {
		return nil, err
	}
	raw, err := flattenToFloat64(bHost, nil)
	if err != nil {
		return nil, err
	}
	target := make(graph.Shape, len(raw))
	for i, v := range raw {
		target[i] = int64(v)
	}

	if a.Shape.Equal(target) {
		return a, nil
	}
	n := int(elements(target))
	out, err := e.Factory.ResultBuffer(t.Name, a.DType, target)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		out.SetElementFromFloat64(i, a.ElementAsFloat64(i))
	}
	if err := e.Factory.enqueueWrite(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Evaluator) opAssign(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	v, ok := item(t, 0).(*graph.Variable)
	if !ok {
		return nil, wrapNode(t.Name, t.Source, fmt.Errorf("assign target is not a Variable"))
	}
	rhs, err := e.run(item(t, 1), ctx)
	if err != nil {
		return nil, err
	}

	existing, hasExisting := e.Session.Variable(v.Name)
	var target *Buffer
	if hasExisting {
		target = existing
		if err := e.overwriteFromBuffer(target, rhs); err != nil {
			return nil, err
		}
	} else {
		host, err := e.ToHost(rhs)
		if err != nil {
			return nil, err
		}
		target, err = e.Factory.Convert(v.Name, v.DataType, v.DeclShape, host, e.resolver(ctx))
		if err != nil {
			return nil, err
		}
	}
	target.Dirty = true
	e.Session.SetVariable(v.Name, target)
	e.saveCheckpointAsync(v.Name, target)
	ctx.setMemo(t.Name, target)
	ctx.setMemo(v.Name, target)
	return target, nil
}

func (e *Evaluator) opAssignAdd(t *graph.Tensor, ctx *Context) (*Buffer, error) {
	v, ok := item(t, 0).(*graph.Variable)
	if !ok {
		return nil, wrapNode(t.Name, t.Source, fmt.Errorf("assign_add target is not a Variable"))
	}
	varBuf, err := e.run(v, ctx)
	if err != nil {
		return nil, err
	}
	rhs, err := e.run(item(t, 1), ctx)
	if err != nil {
		return nil, err
	}

	varBuf, rhs, err = e.Coercer.Coerce(t.Name, varBuf, rhs)
	if err != nil {
		return nil, err
	}
	sum, err := e.Dispatcher.Binary(graph.OpAdd, t.Name+"_sum", varBuf, rhs)
	if err != nil {
		return nil, err
	}

	existing, _ := e.Session.Variable(v.Name)
	if err := e.overwriteFromBuffer(existing, sum); err != nil {
		return nil, err
	}
	existing.Dirty = true
	e.Session.SetVariable(v.Name, existing)
	e.saveCheckpointAsync(v.Name, existing)
	ctx.setMemo(t.Name, existing)
	return existing, nil
}

// overwriteFromBuffer implements assign's "device-to-device write
// overwriting it" in terms of the abstractions this module exposes: a
// host round-trip followed by a fresh host->device write, since no
// direct device-to-device copy primitive is part of the Device
// interface.
func (e *Evaluator) overwriteFromBuffer(dst, src *Buffer) error {
	host, err := e.ToHost(src)
	if err != nil {
		return err
	}
	flat, err := flattenToFloat64(host, nil)
	if err != nil {
		return err
	}
	for i, v := range flat {
		dst.SetElementFromFloat64(i, v)
	}
	return e.Factory.enqueueWrite(dst)
}

func intOption(v any) []int {
	switch x := v.(type) {
	case int:
		return []int{x}
	case []int:
		return x
	case []any:
		out := make([]int, len(x))
		for i, v := range x {
			out[i] = int(toFloat64(v))
		}
		return out
	default:
		return nil
	}
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case []any:
		if len(x) > 0 {
			return toFloat64(x[0])
		}
	}
	return 0
}

// broadcastHost gathers buf's elements into target's (larger) shape
// using standard right-aligned numpy broadcast rules: axes where buf
// has length 1 are repeated.
func broadcastHost(buf *Buffer, target graph.Shape) []float64 {
	rank := len(target)
	padded := padShapeLeft(buf.Shape, rank)
	srcStrides := rowMajorStrides(padded)
	targetStrides := rowMajorStrides([]int64(target))

	n := int(elements(target))
	out := make([]float64, n)
	for flat := 0; flat < n; flat++ {
		rem := flat
		srcIdx := 0
		for axis := 0; axis < rank; axis++ {
			coord := 0
			if targetStrides[axis] != 0 {
				coord = rem / targetStrides[axis]
				rem = rem % targetStrides[axis]
			}
			pos := coord
			if padded[axis] == 1 {
				pos = 0
			}
			srcIdx += pos * srcStrides[axis]
		}
		out[flat] = buf.ElementAsFloat64(srcIdx)
	}
	return out
}

func padShapeLeft(s graph.Shape, rank int) []int64 {
	out := make([]int64, rank)
	offset := rank - len(s)
	for i := 0; i < rank; i++ {
		if i < offset {
			out[i] = 1
		} else {
			out[i] = s[i-offset]
		}
	}
	return out
}

func rowMajorStrides(shape []int64) []int {
	n := len(shape)
	strides := make([]int, n)
	acc := 1
	for i := n - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= int(shape[i])
	}
	return strides
}
