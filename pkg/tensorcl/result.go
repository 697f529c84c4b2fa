package tensorcl

import "github.com/orneryd/tensorcl/pkg/graph"

// ToHost issues a read-buffer against the device memory backing buf
// (waiting on its last event), blocks on queue completion, and
// converts the refreshed host array into a nested Go sequence matching
// buf.Shape. Scalars come back as a single number rather than a
// length-1 slice.
func (e *Evaluator) ToHost(buf *Buffer) (any, error) {
	if buf.Device != nil {
		ev, err := e.Session.Device.EnqueueReadBuffer(buf.Device, buf.Host, waitList(buf.LastEvent))
		if err != nil {
			return nil, &EvaluatorError{Kind: DeviceError, NodeName: buf.Name, Cause: err}
		}
		if err := ev.Wait(); err != nil {
			return nil, &EvaluatorError{Kind: DeviceError, NodeName: buf.Name, Cause: err}
		}
		if err := e.Session.Device.Finish(); err != nil {
			return nil, &EvaluatorError{Kind: DeviceError, NodeName: buf.Name, Cause: err}
		}
	}
	return nestedHostValue(buf, buf.Shape), nil
}

// nestedHostValue recursively slices buf's flat host array into a
// nested sequence matching shape. A scalar (rank 0 or single element
// shape) returns the bare element.
func nestedHostValue(buf *Buffer, shape graph.Shape) any {
	if len(shape) == 0 {
		return elementAt(buf, 0)
	}
	if len(shape) == 1 {
		n := int(shape[0])
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = elementAt(buf, i)
		}
		return out
	}

	head := int(shape[0])
	stride := 1
	for _, d := range shape[1:] {
		stride *= int(d)
	}
	out := make([]any, head)
	for i := 0; i < head; i++ {
		out[i] = sliceNested(buf, shape[1:], i*stride)
	}
	return out
}

// sliceNested builds the nested sequence for the sub-shape starting at
// flat offset base.
func sliceNested(buf *Buffer, shape graph.Shape, base int) any {
	if len(shape) == 1 {
		n := int(shape[0])
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = elementAt(buf, base+i)
		}
		return out
	}
	head := int(shape[0])
	stride := 1
	for _, d := range shape[1:] {
		stride *= int(d)
	}
	out := make([]any, head)
	for i := 0; i < head; i++ {
		out[i] = sliceNested(buf, shape[1:], base+i*stride)
	}
	return out
}

func elementAt(buf *Buffer, i int) any {
	switch buf.DType {
	case graph.Float32:
		return buf.Float32()[i]
	case graph.Int32:
		return buf.Int32()[i]
	case graph.Bool:
		return buf.Bool()[i] != 0
	default:
		return nil
	}
}
