// Package checkpoint persists Variable buffers across process restarts
// using BadgerDB as the on-disk key-value store, gob-encoding each
// buffer's host bytes the way the storage package encodes graph nodes
// and edges.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/orneryd/tensorcl/pkg/graph"
)

func init() {
	gob.Register(graph.Shape{})
}

// record is the on-disk representation of one Variable's buffer.
type record struct {
	DType graph.DType
	Shape graph.Shape
	Host  []byte
}

// Store wraps a Badger database keyed by session ID + variable name.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) a checkpoint store rooted at dir.
// Pass "" for dir to use an in-memory store (useful for tests).
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func variableKey(sessionID, name string) []byte {
	return []byte(fmt.Sprintf("%s/%s", sessionID, name))
}

// Save persists a Variable's current dtype, shape, and host bytes
// under (sessionID, name). Checkpoint writes never block a `run` call:
// callers are expected to invoke Save from a background goroutine once
// a buffer's last event has completed.
func (s *Store) Save(sessionID, name string, dtype graph.DType, shape graph.Shape, host []byte) error {
	rec := record{DType: dtype, Shape: shape, Host: append([]byte(nil), host...)}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("checkpoint: encode %q: %w", name, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(variableKey(sessionID, name), buf.Bytes())
	})
}

// Load retrieves a previously-saved Variable's dtype, shape, and host
// bytes, or ErrNotFound if no checkpoint exists for (sessionID, name).
func (s *Store) Load(sessionID, name string) (graph.DType, graph.Shape, []byte, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(variableKey(sessionID, name))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&rec)
		})
	})
	if err != nil {
		return graph.Invalid, nil, nil, err
	}
	return rec.DType, rec.Shape, rec.Host, nil
}

// ErrNotFound is returned by Load when no checkpoint exists for the
// requested (sessionID, name) pair.
var ErrNotFound = fmt.Errorf("checkpoint: not found")
