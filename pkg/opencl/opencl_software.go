//go:build !opencl

package opencl

import (
	"fmt"
	"math"
	"strings"
	"unsafe"
)

// Device is the default, dependency-free backend: it understands the
// same (operation, variant, dtype) kernel-name contract the real
// OpenCL build does, but executes equivalent Go code instead of a
// compiled GPU program. Every consumer in this module (Kernel
// Registry, Kernel Dispatcher, Evaluator Core) is exercised identically
// whether or not an OpenCL driver is present.
type Device struct {
	info DeviceInfo
}

// Open returns the single software device for index 0; any other index
// yields ErrNoDevice.
func Open(index int) (*Device, error) {
	if index != 0 {
		return nil, ErrNoDevice
	}
	return &Device{info: DeviceInfo{Index: 0, Name: "software", Vendor: "tensorcl", Backend: "software"}}, nil
}

// ListDevices reports the single software device.
func ListDevices() ([]DeviceInfo, error) {
	return []DeviceInfo{{Index: 0, Name: "software", Vendor: "tensorcl", Backend: "software"}}, nil
}

// Info returns static device metadata.
func (d *Device) Info() DeviceInfo { return d.info }

// Close is a no-op for the software device.
func (d *Device) Close() {}

// MemObject is a byte-addressable block of "device" memory. There is no
// host/device split in software mode: writes and reads are memcopies
// into and out of this slice.
type MemObject struct {
	bytes []byte
}

// Size returns the allocation size in bytes.
func (m *MemObject) Size() int {
	if m == nil {
		return 0
	}
	return len(m.bytes)
}

// CreateBuffer allocates byteLen bytes of device memory, or returns a
// nil MemObject for byteLen == 0.
func (d *Device) CreateBuffer(byteLen int) (*MemObject, error) {
	if byteLen == 0 {
		return nil, nil
	}
	return &MemObject{bytes: make([]byte, byteLen)}, nil
}

// event is a software completion token; it is always already complete
// by the time it is returned, since the software device executes
// synchronously.
type event struct{}

func (*event) Wait() error { return nil }

var completedEvent Event = &event{}

// EnqueueWriteBuffer copies host bytes into device memory.
func (d *Device) EnqueueWriteBuffer(mem *MemObject, data []byte, wait []Event) (Event, error) {
	if mem == nil || len(data) == 0 {
		return nil, nil
	}
	copy(mem.bytes, data)
	return completedEvent, nil
}

// EnqueueReadBuffer copies device memory into host bytes.
func (d *Device) EnqueueReadBuffer(mem *MemObject, data []byte, wait []Event) (Event, error) {
	if mem == nil || len(data) == 0 {
		return nil, nil
	}
	copy(data, mem.bytes)
	return completedEvent, nil
}

// Program associates a kernel source file's declared name with its
// (unparsed) source text. The software device never parses the text —
// it dispatches by entry-point name in EnqueueKernel — but keeps the
// source so build-failure semantics (e.g. an empty file) still apply.
type Program struct {
	name   string
	source string
}

// BuildProgram "compiles" source. The only failure mode in software
// mode is an empty program, which would never produce a usable kernel
// on real hardware either.
func (d *Device) BuildProgram(source, name string) (*Program, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: program %s: empty source", ErrBuildFailed, name)
	}
	return &Program{name: name, source: source}, nil
}

// Kernel names one entry point, validated against the software
// dispatch table at invocation time (not here, matching the real
// build's lazy CreateKernel behavior of resolving symbols by name).
type Kernel struct {
	program *Program
	entry   string
}

// Kernel resolves one named entry point. The software device accepts
// any name recognized by the dispatch table in EnqueueKernel.
func (p *Program) Kernel(entryPoint string) (*Kernel, error) {
	return &Kernel{program: p, entry: entryPoint}, nil
}

// EnqueueKernel executes the named kernel over globalWorkSize with
// scalarArgs bound first, then buffers.
func (d *Device) EnqueueKernel(k *Kernel, scalarArgs []int32, buffers []*MemObject, globalWorkSize [2]int, wait []Event) (Event, error) {
	if err := dispatchSoftwareKernel(k.entry, scalarArgs, buffers, globalWorkSize); err != nil {
		return nil, err
	}
	return completedEvent, nil
}

// Finish is a no-op: the software device never defers work.
func (d *Device) Finish() error { return nil }

// --- software kernel semantics ---

func asFloat32(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func asInt32(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func dispatchSoftwareKernel(entry string, scalars []int32, bufs []*MemObject, global [2]int) error {
	switch {
	case entry == "gemm_fp" || entry == "gemm_int":
		return softwareGemm(entry, scalars, bufs)
	case entry == "cast_int_fp":
		return softwareCastIntFP(bufs)
	case entry == "cast_fp_int":
		return softwareCastFPInt(bufs)
	case strings.HasSuffix(entry, "_b_fp") || strings.HasSuffix(entry, "_b_int"):
		return softwareBroadcastBinary(entry, scalars, bufs)
	case strings.HasSuffix(entry, "_c_fp") || strings.HasSuffix(entry, "_c_int"):
		return softwareBinary(entry, scalars, bufs, true)
	case strings.HasSuffix(entry, "_fp") || strings.HasSuffix(entry, "_int"):
		name, _ := trimDTypeSuffix(entry)
		if isUnaryOp(name) {
			return softwareUnary(entry, scalars, bufs)
		}
		return softwareBinary(entry, scalars, bufs, false)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOp, entry)
	}
}

func trimDTypeSuffix(entry string) (name string, isFP bool) {
	if strings.HasSuffix(entry, "_fp") {
		return strings.TrimSuffix(entry, "_fp"), true
	}
	return strings.TrimSuffix(entry, "_int"), false
}

var unaryOps = map[string]bool{
	"sign": true, "exp": true, "log": true, "sin": true, "cos": true, "tan": true,
	"abs": true, "sqrt": true, "negate": true, "square": true, "reciprocal": true,
	"tanh": true, "tanh_grad": true, "sigmoid": true,
}

func isUnaryOp(name string) bool { return unaryOps[name] }

func binaryOpName(entry string) (name string, isFP bool) {
	n, fp := trimDTypeSuffix(entry)
	n = strings.TrimSuffix(n, "_c")
	n = strings.TrimSuffix(n, "_b")
	return n, fp
}

func applyBinary(op string, a, b float64) (float64, error) {
	switch op {
	case "add":
		return a + b, nil
	case "sub":
		return a - b, nil
	case "mul":
		return a * b, nil
	case "div":
		return a / b, nil
	case "pow":
		return math.Pow(a, b), nil
	case "sigmoid_grad":
		return a * b * (1 - b), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedOp, op)
	}
}

func applyUnary(op string, x float64) (float64, error) {
	switch op {
	case "sign":
		switch {
		case x > 0:
			return 1, nil
		case x < 0:
			return -1, nil
		default:
			return 0, nil
		}
	case "exp":
		return math.Exp(x), nil
	case "log":
		return math.Log(x), nil
	case "sin":
		return math.Sin(x), nil
	case "cos":
		return math.Cos(x), nil
	case "tan":
		return math.Tan(x), nil
	case "abs":
		return math.Abs(x), nil
	case "sqrt":
		return math.Sqrt(x), nil
	case "negate":
		return -x, nil
	case "square":
		return x * x, nil
	case "reciprocal":
		return 1 / x, nil
	case "tanh":
		return math.Tanh(x), nil
	case "tanh_grad":
		t := math.Tanh(x)
		return 1 - t*t, nil
	case "sigmoid":
		return 1 / (1 + math.Exp(-x)), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedOp, op)
	}
}

// softwareBinary executes the same-shape and scalar ("_c") variants.
// Argument layout: M, N, switch, A, B, C.
func softwareBinary(entry string, scalars []int32, bufs []*MemObject, scalarVariant bool) error {
	if len(scalars) < 3 || len(bufs) < 3 {
		return ErrInvalidArgCount
	}
	op, isFP := binaryOpName(entry)
	m, n, sw := int(scalars[0]), int(scalars[1]), scalars[2]
	count := m * n
	if isFP {
		a, b, c := asFloat32(bufs[0].bytes), asFloat32(bufs[1].bytes), asFloat32(bufs[2].bytes)
		for i := 0; i < count; i++ {
			ai := float64(a[i])
			var bi float64
			if scalarVariant {
				bi = float64(b[0])
			} else {
				bi = float64(b[i])
			}
			x, y := ai, bi
			if sw != 0 {
				x, y = y, x
			}
			r, err := applyBinary(op, x, y)
			if err != nil {
				return err
			}
			c[i] = float32(r)
		}
		return nil
	}
	a, b, c := asInt32(bufs[0].bytes), asInt32(bufs[1].bytes), asInt32(bufs[2].bytes)
	for i := 0; i < count; i++ {
		ai := float64(a[i])
		var bi float64
		if scalarVariant {
			bi = float64(b[0])
		} else {
			bi = float64(b[i])
		}
		x, y := ai, bi
		if sw != 0 {
			x, y = y, x
		}
		r, err := applyBinary(op, x, y)
		if err != nil {
			return err
		}
		c[i] = int32(r)
	}
	return nil
}

// softwareBroadcastBinary executes the rank<=2 "_b" variant. Argument
// layout: M, N, M2, N2, switch, A, B, C. B is indexed modulo its own
// (M2,N2) shape.
func softwareBroadcastBinary(entry string, scalars []int32, bufs []*MemObject) error {
	if len(scalars) < 5 || len(bufs) < 3 {
		return ErrInvalidArgCount
	}
	op, isFP := binaryOpName(entry)
	m, n := int(scalars[0]), int(scalars[1])
	m2, n2 := int(scalars[2]), int(scalars[3])
	sw := scalars[4]
	if m2 == 0 {
		m2 = 1
	}
	if n2 == 0 {
		n2 = 1
	}

	compute := func(row, col int, a, b func(i int) float64, set func(i int, v float64)) error {
		idx := row*n + col
		bi := b((row%m2)*n2 + (col % n2))
		ai := a(idx)
		x, y := ai, bi
		if sw != 0 {
			x, y = y, x
		}
		r, err := applyBinary(op, x, y)
		if err != nil {
			return err
		}
		set(idx, r)
		return nil
	}

	if isFP {
		a, b, c := asFloat32(bufs[0].bytes), asFloat32(bufs[1].bytes), asFloat32(bufs[2].bytes)
		for row := 0; row < m; row++ {
			for col := 0; col < n; col++ {
				if err := compute(row, col,
					func(i int) float64 { return float64(a[i]) },
					func(i int) float64 { return float64(b[i]) },
					func(i int, v float64) { c[i] = float32(v) }); err != nil {
					return err
				}
			}
		}
		return nil
	}
	a, b, c := asInt32(bufs[0].bytes), asInt32(bufs[1].bytes), asInt32(bufs[2].bytes)
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			if err := compute(row, col,
				func(i int) float64 { return float64(a[i]) },
				func(i int) float64 { return float64(b[i]) },
				func(i int, v float64) { c[i] = int32(v) }); err != nil {
				return err
			}
		}
	}
	return nil
}

// softwareUnary executes a unary kernel. Argument layout: M, N, A, C.
func softwareUnary(entry string, scalars []int32, bufs []*MemObject) error {
	if len(scalars) < 2 || len(bufs) < 2 {
		return ErrInvalidArgCount
	}
	name, isFP := trimDTypeSuffix(entry)
	m, n := int(scalars[0]), int(scalars[1])
	count := m * n
	if isFP {
		a, c := asFloat32(bufs[0].bytes), asFloat32(bufs[1].bytes)
		for i := 0; i < count; i++ {
			r, err := applyUnary(name, float64(a[i]))
			if err != nil {
				return err
			}
			c[i] = float32(r)
		}
		return nil
	}
	a, c := asInt32(bufs[0].bytes), asInt32(bufs[1].bytes)
	for i := 0; i < count; i++ {
		r, err := applyUnary(name, float64(a[i]))
		if err != nil {
			return err
		}
		c[i] = int32(r)
	}
	return nil
}

// softwareGemm executes a matrix multiply. Argument layout: M, N, K,
// transpose_a, transpose_b, A, B, C.
func softwareGemm(entry string, scalars []int32, bufs []*MemObject) error {
	if len(scalars) < 5 || len(bufs) < 3 {
		return ErrInvalidArgCount
	}
	m, n, k := int(scalars[0]), int(scalars[1]), int(scalars[2])
	ta, tb := scalars[3] != 0, scalars[4] != 0

	idxA := func(row, col int) int {
		if ta {
			return col*m + row
		}
		return row*k + col
	}
	idxB := func(row, col int) int {
		if tb {
			return col*k + row
		}
		return row*n + col
	}

	if entry == "gemm_fp" {
		a, b, c := asFloat32(bufs[0].bytes), asFloat32(bufs[1].bytes), asFloat32(bufs[2].bytes)
		for row := 0; row < m; row++ {
			for col := 0; col < n; col++ {
				var sum float64
				for p := 0; p < k; p++ {
					sum += float64(a[idxA(row, p)]) * float64(b[idxB(p, col)])
				}
				c[row*n+col] = float32(sum)
			}
		}
		return nil
	}
	a, b, c := asInt32(bufs[0].bytes), asInt32(bufs[1].bytes), asInt32(bufs[2].bytes)
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			var sum int64
			for p := 0; p < k; p++ {
				sum += int64(a[idxA(row, p)]) * int64(b[idxB(p, col)])
			}
			c[row*n+col] = int32(sum)
		}
	}
	return nil
}

// softwareCastIntFP converts int32 to float32. Argument layout: M, N,
// src, dst.
func softwareCastIntFP(bufs []*MemObject) error {
	if len(bufs) < 2 {
		return ErrInvalidArgCount
	}
	src, dst := asInt32(bufs[0].bytes), asFloat32(bufs[1].bytes)
	for i := range src {
		dst[i] = float32(src[i])
	}
	return nil
}

// softwareCastFPInt converts float32 to int32 by truncation, matching C
// cast semantics. Argument layout: M, N, src, dst.
func softwareCastFPInt(bufs []*MemObject) error {
	if len(bufs) < 2 {
		return ErrInvalidArgCount
	}
	src, dst := asFloat32(bufs[0].bytes), asInt32(bufs[1].bytes)
	for i := range src {
		dst[i] = int32(src[i])
	}
	return nil
}
