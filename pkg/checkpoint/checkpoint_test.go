package checkpoint

import (
	"errors"
	"testing"

	"github.com/orneryd/tensorcl/pkg/graph"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	host := []byte{1, 2, 3, 4}
	shape := graph.Shape{1}

	if err := s.Save("session-a", "counter", graph.Float32, shape, host); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dtype, gotShape, gotHost, err := s.Load("session-a", "counter")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dtype != graph.Float32 {
		t.Errorf("dtype = %v, want Float32", dtype)
	}
	if !gotShape.Equal(shape) {
		t.Errorf("shape = %v, want %v", gotShape, shape)
	}
	if len(gotHost) != len(host) {
		t.Fatalf("len(host) = %d, want %d", len(gotHost), len(host))
	}
	for i := range host {
		if gotHost[i] != host[i] {
			t.Errorf("host[%d] = %d, want %d", i, gotHost[i], host[i])
		}
	}
}

func TestLoadMissingKeyReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	_, _, _, err := s.Load("session-a", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSaveIsolatesBySessionID(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save("session-a", "x", graph.Int32, graph.Shape{2}, []byte{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := s.Load("session-b", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session-b to have no checkpoint for x, got err = %v", err)
	}
}

func TestSaveOverwritesPreviousValue(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save("sess", "v", graph.Float32, graph.Shape{1}, []byte{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("sess", "v", graph.Float32, graph.Shape{1}, []byte{2, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	_, _, host, err := s.Load("sess", "v")
	if err != nil {
		t.Fatal(err)
	}
	if host[0] != 2 {
		t.Errorf("host[0] = %d, want 2 (second Save should overwrite)", host[0])
	}
}
