package tensorcl

import (
	"testing"
	"time"
	"unsafe"

	"github.com/orneryd/tensorcl/pkg/checkpoint"
	"github.com/orneryd/tensorcl/pkg/graph"
)

func TestSaveCheckpointNoOpWithoutStore(t *testing.T) {
	e := newTestEvaluator(t)
	if err := e.SaveCheckpoint("anything"); err != nil {
		t.Fatalf("expected nil error when no store configured, got %v", err)
	}
}

func TestLoadCheckpointNoOpWithoutStore(t *testing.T) {
	e := newTestEvaluator(t)
	restored, err := e.LoadCheckpoint("anything")
	if err != nil || restored {
		t.Fatalf("LoadCheckpoint() = %v, %v; want false, nil", restored, err)
	}
}

type fakeCheckpointStore struct {
	saved map[string]fakeRecord
}

type fakeRecord struct {
	dtype graph.DType
	shape graph.Shape
	host  []byte
}

func newFakeStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{saved: make(map[string]fakeRecord)}
}

func (f *fakeCheckpointStore) Save(sessionID, name string, dtype graph.DType, shape graph.Shape, host []byte) error {
	cp := append([]byte(nil), host...)
	f.saved[sessionID+"/"+name] = fakeRecord{dtype: dtype, shape: shape, host: cp}
	return nil
}

func (f *fakeCheckpointStore) Load(sessionID, name string) (graph.DType, graph.Shape, []byte, error) {
	rec, ok := f.saved[sessionID+"/"+name]
	if !ok {
		return 0, nil, nil, errNotFoundFake
	}
	return rec.dtype, rec.shape, rec.host, nil
}

var errNotFoundFake = &fakeNotFoundError{}

type fakeNotFoundError struct{}

func (*fakeNotFoundError) Error() string { return "fake: not found" }

func (*fakeNotFoundError) Unwrap() error { return checkpoint.ErrNotFound }

func TestSaveThenLoadCheckpointRoundTrip(t *testing.T) {
	e := newTestEvaluator(t)
	e.Checkpoints = newFakeStore()
	e.SessionID = "sess"

	v := &graph.Variable{
		Tensor:  graph.Tensor{Name: "counter", DataType: graph.Float32, DeclShape: graph.Shape{}},
		Initial: float32(5.0),
	}
	ctx := NewContext(e.Session)
	if _, err := e.run(v, ctx); err != nil {
		t.Fatalf("materialize variable: %v", err)
	}
	if err := e.SaveCheckpoint("counter"); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	// Fresh evaluator/session simulating a process restart.
	e2 := newTestEvaluator(t)
	e2.Checkpoints = e.Checkpoints
	e2.SessionID = "sess"
	restored, err := e2.LoadCheckpoint("counter")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if !restored {
		t.Fatal("expected LoadCheckpoint to report a restored checkpoint")
	}
	buf, ok := e2.Session.Variable("counter")
	if !ok {
		t.Fatal("expected restored variable to be present in session cache")
	}
	if buf.Float32()[0] != 5.0 {
		t.Errorf("restored value = %v, want 5.0", buf.Float32()[0])
	}
}

// TestEvalVariableConsultsCheckpointBeforeInitial exercises the
// automatic restore path through Run/evalVariable rather than a direct
// LoadCheckpoint call: a Variable with a checkpointed value must come
// back from the store even though its graph-declared Initial disagrees.
func TestEvalVariableConsultsCheckpointBeforeInitial(t *testing.T) {
	store := newFakeStore()
	store.saved["sess/counter"] = fakeRecord{dtype: graph.Float32, shape: graph.Shape{}, host: f32Bytes(9.0)}

	e := newTestEvaluator(t)
	e.Checkpoints = store
	e.SessionID = "sess"

	v := &graph.Variable{
		Tensor:  graph.Tensor{Name: "counter", DataType: graph.Float32, DeclShape: graph.Shape{}},
		Initial: float32(1.0),
	}
	buf, err := e.run(v, NewContext(e.Session))
	if err != nil {
		t.Fatalf("run(Variable): %v", err)
	}
	if got := buf.Float32()[0]; got != 9.0 {
		t.Errorf("materialized variable = %v, want 9.0 from checkpoint store, not Initial (1.0)", got)
	}
}

// TestAssignAddWritesThroughToCheckpointStore exercises the automatic
// write-through path: running assign_add through Run must, without any
// explicit SaveCheckpoint call, eventually persist the new value to the
// configured store on its background goroutine.
func TestAssignAddWritesThroughToCheckpointStore(t *testing.T) {
	e := newTestEvaluator(t)
	store := newFakeStore()
	e.Checkpoints = store
	e.SessionID = "sess"

	counter := &graph.Variable{
		Tensor:  graph.Tensor{Name: "counter", DataType: graph.Float32, DeclShape: graph.Shape{}},
		Initial: float32(1.0),
	}
	step := &graph.Placeholder{Tensor: graph.Tensor{Name: "step", DataType: graph.Float32, DeclShape: graph.Shape{}}}
	incr := &graph.Tensor{Name: "incr", Operation: graph.OpAssignAdd, DataType: graph.Float32, Items: []any{counter, step}}

	ctx := NewContext(e.Session)
	ctx.Feed["step"] = float32(1.0)
	if _, err := e.Run(incr, ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if rec, ok := store.saved["sess/counter"]; ok {
			if got := bytesToFloat32(rec.host); got != 2.0 {
				t.Errorf("checkpointed counter = %v, want 2.0", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("assign_add never wrote through to the checkpoint store")
		}
		time.Sleep(time.Millisecond)
	}
}

func f32Bytes(v float32) []byte {
	b := make([]byte, 4)
	*(*float32)(unsafe.Pointer(&b[0])) = v
	return b
}

func bytesToFloat32(b []byte) float32 {
	return *(*float32)(unsafe.Pointer(&b[0]))
}
