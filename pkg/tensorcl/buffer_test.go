package tensorcl

import (
	"testing"

	"github.com/orneryd/tensorcl/pkg/graph"
	"github.com/orneryd/tensorcl/pkg/opencl"
)

func mustDevice(t *testing.T) *opencl.Device {
	t.Helper()
	dev, err := opencl.Open(0)
	if err != nil {
		t.Fatalf("opencl.Open: %v", err)
	}
	return dev
}

func TestNewBufferAllocatesHostAndDevice(t *testing.T) {
	dev := mustDevice(t)
	buf, err := NewBuffer(dev, "x", graph.Float32, graph.Shape{2, 3})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if len(buf.Host) != 2*3*4 {
		t.Errorf("len(Host) = %d, want %d", len(buf.Host), 2*3*4)
	}
	if buf.Device == nil {
		t.Error("expected non-nil device memory for non-empty shape")
	}
}

func TestNewBufferScalarShape(t *testing.T) {
	dev := mustDevice(t)
	buf, err := NewBuffer(dev, "s", graph.Float32, graph.Shape{})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if len(buf.Host) != 4 {
		t.Errorf("len(Host) = %d, want 4 for scalar fp32", len(buf.Host))
	}
}

func TestNewBufferZeroElementShapeHasNilDevice(t *testing.T) {
	dev := mustDevice(t)
	buf, err := NewBuffer(dev, "empty", graph.Float32, graph.Shape{0, 3})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if buf.Device != nil {
		t.Error("expected nil device memory for zero-element shape")
	}
}

func TestBufferFloat32ViewAndSetElement(t *testing.T) {
	dev := mustDevice(t)
	buf, err := NewBuffer(dev, "v", graph.Float32, graph.Shape{4})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	buf.SetElementFromFloat64(2, 3.5)
	if got := buf.ElementAsFloat64(2); got != 3.5 {
		t.Errorf("ElementAsFloat64(2) = %v, want 3.5", got)
	}
	if got := buf.Float32()[2]; got != 3.5 {
		t.Errorf("Float32()[2] = %v, want 3.5", got)
	}
}

func TestBufferInt32ViewPanicsOnWrongDtype(t *testing.T) {
	dev := mustDevice(t)
	buf, err := NewBuffer(dev, "v", graph.Float32, graph.Shape{2})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling Int32() on a Float32 buffer")
		}
	}()
	_ = buf.Int32()
}

func TestBufferBoolSetAndRead(t *testing.T) {
	dev := mustDevice(t)
	buf, err := NewBuffer(dev, "flags", graph.Bool, graph.Shape{3})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	buf.SetElementFromFloat64(0, 1)
	buf.SetElementFromFloat64(1, 0)
	if got := buf.ElementAsFloat64(0); got != 1 {
		t.Errorf("element 0 = %v, want 1", got)
	}
	if got := buf.ElementAsFloat64(1); got != 0 {
		t.Errorf("element 1 = %v, want 0", got)
	}
}

func TestBufferReleaseClearsPooledHost(t *testing.T) {
	dev := mustDevice(t)
	buf, err := NewBuffer(dev, "scratch", graph.Float32, graph.Shape{8})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	buf.Release()
	if buf.Host != nil {
		t.Error("expected Host to be nil after Release")
	}
}
