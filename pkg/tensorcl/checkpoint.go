package tensorcl

import (
	"errors"

	"github.com/orneryd/tensorcl/pkg/checkpoint"
	"github.com/orneryd/tensorcl/pkg/graph"
)

// CheckpointStore is the persistence boundary an Evaluator saves
// Variable buffers through. *checkpoint.Store satisfies it; tests can
// substitute a fake.
type CheckpointStore interface {
	Save(sessionID, name string, dtype graph.DType, shape graph.Shape, host []byte) error
	Load(sessionID, name string) (graph.DType, graph.Shape, []byte, error)
}

// SaveCheckpoint persists the current buffer for a named Variable. It
// is a no-op if no CheckpointStore was configured. Checkpoint writes
// are expected to run off the hot path — callers typically invoke this
// from a background goroutine once they know the variable's last
// write has completed.
func (e *Evaluator) SaveCheckpoint(name string) error {
	if e.Checkpoints == nil {
		return nil
	}
	buf, ok := e.Session.Variable(name)
	if !ok {
		return nil
	}
	return e.Checkpoints.Save(e.SessionID, name, buf.DType, buf.Shape, buf.Host)
}

// saveCheckpointAsync snapshots buf's host bytes synchronously (so a
// later overwrite of buf can't race the save), then waits for its
// pending device write to finish and persists the snapshot on a
// background goroutine. assign/assign_add call this instead of
// SaveCheckpoint directly so a configured CheckpointStore is kept
// current without putting a store round-trip on the hot path. A no-op
// if no CheckpointStore was configured.
func (e *Evaluator) saveCheckpointAsync(name string, buf *Buffer) {
	if e.Checkpoints == nil {
		return
	}
	dtype, shape, ev := buf.DType, buf.Shape, buf.LastEvent
	host := append([]byte(nil), buf.Host...)
	go func() {
		if ev != nil {
			if err := ev.Wait(); err != nil {
				return
			}
		}
		_ = e.Checkpoints.Save(e.SessionID, name, dtype, shape, host)
	}()
}

// LoadCheckpoint restores a Variable's buffer from the checkpoint
// store into the session cache, marking it dirty so subsequent
// evaluation treats it as already assigned. Returns (false, nil) if no
// checkpoint exists or no store is configured.
func (e *Evaluator) LoadCheckpoint(name string) (bool, error) {
	if e.Checkpoints == nil {
		return false, nil
	}
	dtype, shape, host, err := e.Checkpoints.Load(e.SessionID, name)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	buf, err := NewBuffer(e.Session.Device, name, dtype, shape)
	if err != nil {
		return false, err
	}
	copy(buf.Host, host)
	buf.Dirty = true
	if err := e.Factory.enqueueWrite(buf); err != nil {
		return false, err
	}
	e.Session.SetVariable(name, buf)
	return true, nil
}
