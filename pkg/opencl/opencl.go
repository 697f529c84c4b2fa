// Package opencl provides the device/context/queue/program/kernel/event
// lifecycle the tensor evaluator dispatches kernels through.
//
// Two builds exist, selected by the "opencl" build tag, mirroring the
// pattern used elsewhere in this codebase's lineage for optional native
// backends:
//
//   - "opencl" tag set: real OpenCL via github.com/jgillich/go-opencl/cl,
//     compiling and running the embedded kernel sources on actual
//     hardware (opencl_bridge.go).
//   - default (no tag): a software device that understands the same
//     (operation, variant, dtype) naming contract and executes
//     equivalent Go code instead of a GPU program (opencl_software.go).
//     This keeps every consumer of this package — the Kernel Registry,
//     Kernel Dispatcher, and Evaluator Core — fully testable without an
//     OpenCL driver installed.
//
// Callers never branch on which build is active; both expose the same
// Device/Program/Kernel/MemObject/Event API.
package opencl

import "errors"

// Event is an opaque completion token produced by an enqueue operation
// and consumed as a wait-list entry by later enqueues. A nil Event
// means "nothing to wait for".
type Event interface {
	// Wait blocks until the operation that produced this event has
	// completed on the device queue.
	Wait() error
}

// Errors shared by both device builds.
var (
	ErrNoDevice        = errors.New("opencl: no device available")
	ErrBuildFailed     = errors.New("opencl: program build failed")
	ErrKernelNotFound  = errors.New("opencl: kernel entry point not found")
	ErrUnsupportedOp   = errors.New("opencl: unsupported kernel entry point")
	ErrInvalidArgCount = errors.New("opencl: invalid kernel argument count")
)

// DeviceInfo describes a discoverable compute device, real or software.
type DeviceInfo struct {
	Index   int
	Name    string
	Vendor  string
	Backend string // "opencl" or "software"
}
