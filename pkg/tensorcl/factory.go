package tensorcl

import (
	"fmt"

	"github.com/orneryd/tensorcl/pkg/graph"
)

// Factory allocates, fills, and uploads buffers from host values,
// caching by (tensor-name, shape).
type Factory struct {
	Session *SessionCache
}

// NewFactory binds a Factory to a session.
func NewFactory(s *SessionCache) *Factory {
	return &Factory{Session: s}
}

// ResolveTensor fully evaluates a nested *graph.Tensor to a host value,
// used when filling a buffer whose literal value contains tensor
// references. It is supplied by the Evaluator Core to avoid an import
// cycle between the factory and the evaluator.
type ResolveTensor func(*graph.Tensor) (any, error)

// Convert returns the Device Buffer for (name, shape), creating or
// refreshing it from value.
//
//   - A cache hit with a non-nil value re-fills the host array and
//     re-enqueues a host->device write.
//   - A cache hit with a nil value returns the cached object unchanged.
//   - A cache miss allocates a fresh buffer, fills it from value (if
//     any), and enqueues the initial write.
func (f *Factory) Convert(name string, dt graph.DType, shape graph.Shape, value any, resolve ResolveTensor) (*Buffer, error) {
	if cached, ok := f.Session.GetBuffer(name, shape); ok {
		if value == nil {
			return cached, nil
		}
		if err := f.fill(cached, value, resolve); err != nil {
			return nil, wrapNode(name, "", err)
		}
		if err := f.enqueueWrite(cached); err != nil {
			return nil, wrapNode(name, "", err)
		}
		return cached, nil
	}

	buf, err := NewBuffer(f.Session.Device, name, dt, shape)
	if err != nil {
		return nil, wrapNode(name, "", err)
	}
	if value != nil {
		if err := f.fill(buf, value, resolve); err != nil {
			return nil, wrapNode(name, "", err)
		}
		if err := f.enqueueWrite(buf); err != nil {
			return nil, wrapNode(name, "", err)
		}
	}
	f.Session.PutBuffer(name, shape, buf)
	return buf, nil
}

// ResultBuffer allocates an output-only buffer cached under
// ("_result_", name, shape), with no host write enqueued.
func (f *Factory) ResultBuffer(name string, dt graph.DType, shape graph.Shape) (*Buffer, error) {
	if cached, ok := f.Session.GetResultBuffer(name, shape); ok {
		return cached, nil
	}
	buf, err := NewBuffer(f.Session.Device, name, dt, shape)
	if err != nil {
		return nil, wrapNode(name, "", err)
	}
	f.Session.PutResultBuffer(name, shape, buf)
	return buf, nil
}

func (f *Factory) enqueueWrite(buf *Buffer) error {
	if buf.Device == nil || len(buf.Host) == 0 {
		return nil
	}
	ev, err := f.Session.Device.EnqueueWriteBuffer(buf.Device, buf.Host, waitList(buf.LastEvent))
	if err != nil {
		return &EvaluatorError{Kind: DeviceError, Cause: err}
	}
	buf.LastEvent = ev
	return nil
}

// fill flattens value into buf.Host, adopting a matching typed array
// directly and otherwise coercing through float64.
func (f *Factory) fill(buf *Buffer, value any, resolve ResolveTensor) error {
	switch v := value.(type) {
	case []float32:
		if buf.DType == graph.Float32 {
			copy(buf.Float32(), v)
			return nil
		}
	case []int32:
		if buf.DType == graph.Int32 {
			copy(buf.Int32(), v)
			return nil
		}
	case []bool:
		if buf.DType == graph.Bool {
			dst := buf.Bool()
			for i, b := range v {
				if b {
					dst[i] = 1
				} else {
					dst[i] = 0
				}
			}
			return nil
		}
	}

	flat, err := flattenToFloat64(value, resolve)
	if err != nil {
		return err
	}
	if len(flat) == 1 && buf.Shape.Elements() != 1 {
		// scalar fill broadcast across the declared shape (zeros/ones style)
		v := flat[0]
		n := int(elements(buf.Shape))
		for i := 0; i < n; i++ {
			buf.SetElementFromFloat64(i, v)
		}
		return nil
	}
	if int64(len(flat)) != elements(buf.Shape) {
		return fmt.Errorf("tensorcl: value has %d elements, buffer %q expects %d", len(flat), buf.Name, elements(buf.Shape))
	}
	for i, v := range flat {
		buf.SetElementFromFloat64(i, v)
	}
	return nil
}

// flattenToFloat64 recursively flattens a host value (nested slices,
// typed arrays, scalars, or nested tensors) into a flat float64 slice.
func flattenToFloat64(value any, resolve ResolveTensor) ([]float64, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		return []float64{v}, nil
	case float32:
		return []float64{float64(v)}, nil
	case int:
		return []float64{float64(v)}, nil
	case int32:
		return []float64{float64(v)}, nil
	case int64:
		return []float64{float64(v)}, nil
	case bool:
		if v {
			return []float64{1}, nil
		}
		return []float64{0}, nil
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []float64:
		return v, nil
	case []bool:
		out := make([]float64, len(v))
		for i, x := range v {
			if x {
				out[i] = 1
			}
		}
		return out, nil
	case []any:
		var out []float64
		for _, item := range v {
			sub, err := flattenToFloat64(item, resolve)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	case *graph.Tensor:
		if resolve == nil {
			return nil, fmt.Errorf("tensorcl: cannot resolve nested tensor %q without a resolver", v.Name)
		}
		resolved, err := resolve(v)
		if err != nil {
			return nil, err
		}
		return flattenToFloat64(resolved, resolve)
	default:
		return nil, fmt.Errorf("tensorcl: unsupported host value type %T", value)
	}
}
