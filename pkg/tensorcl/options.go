package tensorcl

import (
	"fmt"
	"time"

	"github.com/orneryd/tensorcl/pkg/config"
	"github.com/orneryd/tensorcl/pkg/opencl"
	"github.com/orneryd/tensorcl/pkg/tensorcl/kernels"
)

// EvaluatorOption configures Open.
type EvaluatorOption func(*openSettings)

type openSettings struct {
	deviceIndex      int
	kernelSourceTTL  time.Duration
	logIntermediates bool
	checkpoints      CheckpointStore
	sessionID        string
}

// WithDeviceIndex selects which enumerated device Open binds to.
func WithDeviceIndex(index int) EvaluatorOption {
	return func(s *openSettings) { s.deviceIndex = index }
}

// WithLogIntermediates makes every Context created via NewRunContext
// start with intermediate logging enabled.
func WithLogIntermediates(on bool) EvaluatorOption {
	return func(s *openSettings) { s.logIntermediates = on }
}

// WithCheckpointStore attaches a Variable persistence layer.
func WithCheckpointStore(store CheckpointStore, sessionID string) EvaluatorOption {
	return func(s *openSettings) {
		s.checkpoints = store
		s.sessionID = sessionID
	}
}

// WithConfig seeds settings from a loaded EvaluatorConfig; later
// options in the Open call still override individual fields.
func WithConfig(cfg config.EvaluatorConfig) EvaluatorOption {
	return func(s *openSettings) {
		s.deviceIndex = cfg.DeviceIndex
		s.logIntermediates = cfg.LogIntermediates
		s.kernelSourceTTL = cfg.KernelSourceTTL
		s.sessionID = cfg.SessionID
	}
}

// Open opens the configured device, constructs its kernel registry,
// and returns a ready-to-use Evaluator. The device, context, and queue
// live for the Evaluator's lifetime.
func Open(opts ...EvaluatorOption) (*Evaluator, error) {
	settings := openSettings{kernelSourceTTL: 30 * time.Second, sessionID: "default"}
	for _, opt := range opts {
		opt(&settings)
	}

	dev, err := opencl.Open(settings.deviceIndex)
	if err != nil {
		return nil, fmt.Errorf("tensorcl: open device %d: %w", settings.deviceIndex, err)
	}
	reg := kernels.NewRegistry(dev, settings.kernelSourceTTL)

	e := NewEvaluator(dev, reg)
	e.Checkpoints = settings.checkpoints
	e.SessionID = settings.sessionID
	e.logIntermed = settings.logIntermediates
	return e, nil
}

// NewRunContext creates a fresh per-run Context, pre-seeded with the
// LogIntermediates setting this Evaluator was opened with.
func (e *Evaluator) NewRunContext() *Context {
	ctx := NewContext(e.Session)
	ctx.LogIntermediates = e.logIntermed
	return ctx
}

// Close releases the underlying device.
func (e *Evaluator) Close() {
	e.Session.Device.Close()
}
