package tensorcl

import (
	"testing"

	"github.com/orneryd/tensorcl/pkg/graph"
)

func TestFactoryConvertAllocatesAndFills(t *testing.T) {
	s := newTestSession(t)
	f := NewFactory(s)

	buf, err := f.Convert("a", graph.Float32, graph.Shape{3}, []float32{1, 2, 3}, nil)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got := buf.Float32(); got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("buffer contents = %v, want [1 2 3]", got)
	}
}

func TestFactoryConvertCachesByNameAndShape(t *testing.T) {
	s := newTestSession(t)
	f := NewFactory(s)

	buf1, err := f.Convert("a", graph.Float32, graph.Shape{2}, []float32{1, 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	buf2, err := f.Convert("a", graph.Float32, graph.Shape{2}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if buf1 != buf2 {
		t.Fatal("expected second Convert with nil value to return cached buffer by identity")
	}
}

func TestFactoryConvertRefillsOnNonNilValue(t *testing.T) {
	s := newTestSession(t)
	f := NewFactory(s)

	buf, err := f.Convert("a", graph.Float32, graph.Shape{2}, []float32{1, 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	buf2, err := f.Convert("a", graph.Float32, graph.Shape{2}, []float32{9, 9}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if buf != buf2 {
		t.Fatal("expected refill to reuse the same cached buffer object")
	}
	if got := buf.Float32(); got[0] != 9 || got[1] != 9 {
		t.Errorf("buffer contents after refill = %v, want [9 9]", got)
	}
}

func TestFactoryConvertScalarBroadcastFill(t *testing.T) {
	s := newTestSession(t)
	f := NewFactory(s)

	buf, err := f.Convert("zeros_like_x", graph.Float32, graph.Shape{4}, float64(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range buf.Float32() {
		if v != 0 {
			t.Errorf("element %d = %v, want 0", i, v)
		}
	}
}

func TestFactoryResultBufferCachedSeparatelyFromConvert(t *testing.T) {
	s := newTestSession(t)
	f := NewFactory(s)

	conv, err := f.Convert("r", graph.Float32, graph.Shape{2}, []float32{1, 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := f.ResultBuffer("r", graph.Float32, graph.Shape{2})
	if err != nil {
		t.Fatal(err)
	}
	if conv == result {
		t.Fatal("expected result buffer cache to be distinct from the convert buffer cache")
	}

	result2, err := f.ResultBuffer("r", graph.Float32, graph.Shape{2})
	if err != nil {
		t.Fatal(err)
	}
	if result != result2 {
		t.Fatal("expected repeated ResultBuffer calls to return the same cached buffer")
	}
}

func TestFlattenToFloat64NestedLists(t *testing.T) {
	flat, err := flattenToFloat64([]any{float64(1), []any{float64(2), float64(3)}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2, 3}
	if len(flat) != len(want) {
		t.Fatalf("len(flat) = %d, want %d", len(flat), len(want))
	}
	for i := range want {
		if flat[i] != want[i] {
			t.Errorf("flat[%d] = %v, want %v", i, flat[i], want[i])
		}
	}
}

func TestFlattenToFloat64UnresolvableTensorErrors(t *testing.T) {
	tensor := &graph.Tensor{Name: "nested"}
	if _, err := flattenToFloat64(tensor, nil); err == nil {
		t.Fatal("expected error resolving nested tensor without a resolver")
	}
}
