package tensorcl

import (
	"testing"

	"github.com/orneryd/tensorcl/pkg/graph"
)

func newTestCoercer(t *testing.T) (*Coercer, *Factory) {
	t.Helper()
	s := newTestSession(t)
	f := NewFactory(s)
	return NewCoercer(s, f), f
}

func TestCoerceSameDtypeUnchanged(t *testing.T) {
	c, f := newTestCoercer(t)
	a, _ := f.Convert("a", graph.Float32, graph.Shape{2}, []float32{1, 2}, nil)
	b, _ := f.Convert("b", graph.Float32, graph.Shape{2}, []float32{3, 4}, nil)
	gotA, gotB, err := c.Coerce("op", a, b)
	if err != nil {
		t.Fatal(err)
	}
	if gotA != a || gotB != b {
		t.Fatal("expected same-dtype operands to pass through unchanged")
	}
}

func TestCoerceCastsBIntoAFloatFamily(t *testing.T) {
	c, f := newTestCoercer(t)
	a, _ := f.Convert("a", graph.Float32, graph.Shape{2}, []float32{1, 2}, nil)
	b, _ := f.Convert("b", graph.Int32, graph.Shape{2}, []int32{3, 4}, nil)

	gotA, gotB, err := c.Coerce("op", a, b)
	if err != nil {
		t.Fatal(err)
	}
	if gotA != a {
		t.Error("expected a to remain unchanged when a is the floating operand")
	}
	if gotB.DType != graph.Float32 {
		t.Errorf("expected casted b to be Float32, got %v", gotB.DType)
	}
	if _, err := c.Session.Device.EnqueueReadBuffer(gotB.Device, gotB.Host, nil); err != nil {
		t.Fatal(err)
	}
	want := []float32{3, 4}
	got := gotB.Float32()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("casted b[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCoerceCastsBIntoAIntFamily(t *testing.T) {
	c, f := newTestCoercer(t)
	a, _ := f.Convert("a", graph.Int32, graph.Shape{2}, []int32{1, 2}, nil)
	b, _ := f.Convert("b", graph.Float32, graph.Shape{2}, []float32{3.7, 4.2}, nil)

	gotA, gotB, err := c.Coerce("op", a, b)
	if err != nil {
		t.Fatal(err)
	}
	if gotA != a {
		t.Error("expected a to remain unchanged when a is the integer operand")
	}
	if gotB.DType != graph.Int32 {
		t.Errorf("expected casted b to be Int32, got %v", gotB.DType)
	}
	if _, err := c.Session.Device.EnqueueReadBuffer(gotB.Device, gotB.Host, nil); err != nil {
		t.Fatal(err)
	}
	want := []int32{3, 4}
	got := gotB.Int32()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("casted b[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
