//go:build opencl

package opencl

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
)

// Device owns the OpenCL platform/device/context/queue quadruple for
// one evaluator session. It is created once on the first run and
// reused for the session's lifetime.
type Device struct {
	mu      sync.Mutex
	clDev   *cl.Device
	context *cl.Context
	queue   *cl.CommandQueue
	info    DeviceInfo
}

// Open selects a device by index across all platforms' devices of
// every type, in platform enumeration order; GPUs are not preferred.
func Open(index int) (*Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("opencl: get platforms: %w", err)
	}

	var all []*cl.Device
	for _, p := range platforms {
		devs, err := p.GetDevices(cl.DeviceTypeAll)
		if err != nil {
			continue
		}
		all = append(all, devs...)
	}
	if index < 0 || index >= len(all) {
		return nil, ErrNoDevice
	}
	clDev := all[index]

	ctx, err := cl.CreateContext([]*cl.Device{clDev})
	if err != nil {
		return nil, fmt.Errorf("opencl: create context: %w", err)
	}
	queue, err := ctx.CreateCommandQueue(clDev, 0)
	if err != nil {
		return nil, fmt.Errorf("opencl: create command queue: %w", err)
	}

	return &Device{
		clDev:   clDev,
		context: ctx,
		queue:   queue,
		info: DeviceInfo{
			Index:   index,
			Name:    clDev.Name(),
			Vendor:  clDev.Vendor(),
			Backend: "opencl",
		},
	}, nil
}

// ListDevices enumerates every OpenCL device across every platform.
func ListDevices() ([]DeviceInfo, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("opencl: get platforms: %w", err)
	}
	var out []DeviceInfo
	idx := 0
	for _, p := range platforms {
		devs, err := p.GetDevices(cl.DeviceTypeAll)
		if err != nil {
			continue
		}
		for _, d := range devs {
			out = append(out, DeviceInfo{Index: idx, Name: d.Name(), Vendor: d.Vendor(), Backend: "opencl"})
			idx++
		}
	}
	return out, nil
}

// Info returns static device metadata.
func (d *Device) Info() DeviceInfo { return d.info }

// Close releases the context and command queue.
func (d *Device) Close() {
	if d.queue != nil {
		d.queue.Release()
	}
	if d.context != nil {
		d.context.Release()
	}
}

// MemObject wraps a device memory allocation, or nil when the declared
// shape has zero elements.
type MemObject struct {
	mem  *cl.MemObject
	size int
}

// Size returns the allocation size in bytes.
func (m *MemObject) Size() int {
	if m == nil {
		return 0
	}
	return m.size
}

// CreateBuffer allocates device memory. byteLen == 0 returns a nil
// MemObject, matching the "device_mem = null when size is zero"
// invariant.
func (d *Device) CreateBuffer(byteLen int) (*MemObject, error) {
	if byteLen == 0 {
		return nil, nil
	}
	mem, err := d.context.CreateEmptyBuffer(cl.MemReadWrite, byteLen)
	if err != nil {
		return nil, fmt.Errorf("opencl: create buffer: %w", err)
	}
	return &MemObject{mem: mem, size: byteLen}, nil
}

type clEvent struct{ ev *cl.Event }

func (e *clEvent) Wait() error {
	if e == nil || e.ev == nil {
		return nil
	}
	return cl.WaitForEvents([]*cl.Event{e.ev})
}

func toCLEvents(wait []Event) []*cl.Event {
	var out []*cl.Event
	for _, w := range wait {
		if w == nil {
			continue
		}
		if ce, ok := w.(*clEvent); ok && ce.ev != nil {
			out = append(out, ce.ev)
		}
	}
	return out
}

// EnqueueWriteBuffer uploads host bytes into device memory, returning
// the completion event.
func (d *Device) EnqueueWriteBuffer(mem *MemObject, data []byte, wait []Event) (Event, error) {
	if mem == nil || len(data) == 0 {
		return nil, nil
	}
	ev, err := d.queue.EnqueueWriteBuffer(mem.mem, false, 0, len(data), unsafe.Pointer(&data[0]), toCLEvents(wait))
	if err != nil {
		return nil, fmt.Errorf("opencl: write buffer: %w", err)
	}
	return &clEvent{ev: ev}, nil
}

// EnqueueReadBuffer downloads device memory into host bytes, returning
// the completion event.
func (d *Device) EnqueueReadBuffer(mem *MemObject, data []byte, wait []Event) (Event, error) {
	if mem == nil || len(data) == 0 {
		return nil, nil
	}
	ev, err := d.queue.EnqueueReadBuffer(mem.mem, false, 0, len(data), unsafe.Pointer(&data[0]), toCLEvents(wait))
	if err != nil {
		return nil, fmt.Errorf("opencl: read buffer: %w", err)
	}
	return &clEvent{ev: ev}, nil
}

// Program is a compiled OpenCL program built from one kernel source file.
type Program struct {
	prog *cl.Program
}

// BuildProgram compiles source for this device. On failure the device
// build log is embedded in the returned error.
func (d *Device) BuildProgram(source, name string) (*Program, error) {
	prog, err := d.context.CreateProgramWithSource([]string{source})
	if err != nil {
		return nil, fmt.Errorf("opencl: create program %s: %w", name, err)
	}
	if err := prog.BuildProgram([]*cl.Device{d.clDev}, ""); err != nil {
		log, _ := prog.GetBuildLog(d.clDev)
		return nil, fmt.Errorf("%w: program %s: %v\n%s", ErrBuildFailed, name, err, log)
	}
	return &Program{prog: prog}, nil
}

// Kernel is an invokable entry point within a built program.
type Kernel struct {
	k    *cl.Kernel
	name string
}

// Kernel resolves one named entry point from the compiled program.
func (p *Program) Kernel(entryPoint string) (*Kernel, error) {
	k, err := p.prog.CreateKernel(entryPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKernelNotFound, entryPoint, err)
	}
	return &Kernel{k: k, name: entryPoint}, nil
}

// EnqueueKernel packs scalarArgs followed by buffers as kernel
// arguments in that order, then enqueues over globalWorkSize, returning
// the completion event.
func (d *Device) EnqueueKernel(k *Kernel, scalarArgs []int32, buffers []*MemObject, globalWorkSize [2]int, wait []Event) (Event, error) {
	args := make([]any, 0, len(scalarArgs)+len(buffers))
	for _, s := range scalarArgs {
		args = append(args, s)
	}
	for _, b := range buffers {
		if b == nil {
			args = append(args, nil)
			continue
		}
		args = append(args, b.mem)
	}
	if err := k.k.SetArgs(args...); err != nil {
		return nil, fmt.Errorf("opencl: set args for %s: %w", k.name, err)
	}
	global := []int{globalWorkSize[0], globalWorkSize[1]}
	ev, err := d.queue.EnqueueNDRangeKernel(k.k, nil, global, nil, toCLEvents(wait))
	if err != nil {
		return nil, fmt.Errorf("opencl: enqueue kernel %s: %w", k.name, err)
	}
	return &clEvent{ev: ev}, nil
}

// Finish blocks until every previously enqueued command on this device's
// queue has completed.
func (d *Device) Finish() error {
	if err := d.queue.Finish(); err != nil {
		return fmt.Errorf("opencl: finish: %w", err)
	}
	return nil
}
