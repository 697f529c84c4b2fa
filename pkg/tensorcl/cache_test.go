package tensorcl

import (
	"testing"

	"github.com/orneryd/tensorcl/pkg/graph"
	"github.com/orneryd/tensorcl/pkg/tensorcl/kernels"
)

func newTestSession(t *testing.T) *SessionCache {
	t.Helper()
	dev := mustDevice(t)
	reg := kernels.NewRegistry(dev, 0)
	return NewSessionCache(dev, reg)
}

func TestSessionCacheBufferRoundTrip(t *testing.T) {
	s := newTestSession(t)
	buf, err := NewBuffer(s.Device, "x", graph.Float32, graph.Shape{2})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetBuffer("x", graph.Shape{2}); ok {
		t.Fatal("expected miss before PutBuffer")
	}
	s.PutBuffer("x", graph.Shape{2}, buf)
	got, ok := s.GetBuffer("x", graph.Shape{2})
	if !ok || got != buf {
		t.Fatal("expected cached buffer to be returned by identity")
	}
}

func TestSessionCacheDifferentShapesDistinctKeys(t *testing.T) {
	s := newTestSession(t)
	bufA, _ := NewBuffer(s.Device, "x", graph.Float32, graph.Shape{2})
	bufB, _ := NewBuffer(s.Device, "x", graph.Float32, graph.Shape{3})
	s.PutBuffer("x", graph.Shape{2}, bufA)
	s.PutBuffer("x", graph.Shape{3}, bufB)

	got2, _ := s.GetBuffer("x", graph.Shape{2})
	got3, _ := s.GetBuffer("x", graph.Shape{3})
	if got2 != bufA || got3 != bufB {
		t.Fatal("expected name+shape to form distinct cache keys")
	}
}

func TestSessionCacheVariablePersists(t *testing.T) {
	s := newTestSession(t)
	buf, _ := NewBuffer(s.Device, "counter", graph.Float32, graph.Shape{})
	if _, ok := s.Variable("counter"); ok {
		t.Fatal("expected miss before SetVariable")
	}
	s.SetVariable("counter", buf)
	got, ok := s.Variable("counter")
	if !ok || got != buf {
		t.Fatal("expected variable buffer to persist")
	}
}

func TestSessionCacheRandForGraphDeterministic(t *testing.T) {
	s := newTestSession(t)
	r1 := s.RandForGraph("g1", 42)
	r2 := s.RandForGraph("g1", 42)
	if r1 != r2 {
		t.Fatal("expected same generator instance for the same graph id")
	}
}

func TestSessionCacheRandForOpDistinctFromGraph(t *testing.T) {
	s := newTestSession(t)
	rg := s.RandForGraph("shared", 1)
	ro := s.RandForOp("shared", 1)
	if rg == ro {
		t.Fatal("expected graph-scoped and op-scoped generators to be distinct")
	}
}

func TestContextMemoization(t *testing.T) {
	s := newTestSession(t)
	ctx := NewContext(s)
	buf, _ := NewBuffer(s.Device, "y", graph.Float32, graph.Shape{1})

	if _, ok := ctx.memo("y"); ok {
		t.Fatal("expected no memo before setMemo")
	}
	ctx.setMemo("y", buf)
	got, ok := ctx.memo("y")
	if !ok || got != buf {
		t.Fatal("expected memoized buffer to be retrievable")
	}
}

func TestContextFeedValueMissing(t *testing.T) {
	s := newTestSession(t)
	ctx := NewContext(s)
	if _, err := ctx.feedValue("missing"); err == nil {
		t.Fatal("expected error for unfed placeholder")
	}
}

func TestContextFeedValuePresent(t *testing.T) {
	s := newTestSession(t)
	ctx := NewContext(s)
	ctx.Feed["step"] = float32(1.0)
	v, err := ctx.feedValue("step")
	if err != nil {
		t.Fatal(err)
	}
	if v.(float32) != 1.0 {
		t.Errorf("feedValue = %v, want 1.0", v)
	}
}
