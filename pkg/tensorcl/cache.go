package tensorcl

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/orneryd/tensorcl/pkg/graph"
	"github.com/orneryd/tensorcl/pkg/opencl"
	"github.com/orneryd/tensorcl/pkg/tensorcl/kernels"
)

// bufferKey is the Buffer Factory cache key: a tensor name plus its
// shape.
type bufferKey struct {
	name  string
	shape string // graph.Shape.String(), comparable and hashable
}

func newBufferKey(name string, shape graph.Shape) bufferKey {
	return bufferKey{name: name, shape: shape.String()}
}

// SessionCache holds everything that outlives a single run: the open
// device, queue, compiled kernels, and buffers, each as a named, typed
// sub-slot. It is constructed once per session and threaded through
// every `run` call; Variable buffers and compiled kernels outlive any
// single run.
type SessionCache struct {
	Device *opencl.Device
	Kernels *kernels.Registry

	mu            sync.Mutex
	buffers       map[bufferKey]*Buffer // converted/uploaded buffers, by (name, shape)
	resultBuffers map[bufferKey]*Buffer // "_result_" buffers, by (name, shape)
	variables     map[string]*Buffer    // assigned Variable buffers, by name (persist across runs)

	randGraph map[string]*rand.Rand // session-scoped generator keyed by graph identity
	randOp    map[string]*rand.Rand // session-scoped generator keyed by op tag
}

// NewSessionCache constructs a session cache around an already-open
// device and kernel registry, both supplied by the caller and reused
// for every run.
func NewSessionCache(dev *opencl.Device, reg *kernels.Registry) *SessionCache {
	return &SessionCache{
		Device:        dev,
		Kernels:       reg,
		buffers:       make(map[bufferKey]*Buffer),
		resultBuffers: make(map[bufferKey]*Buffer),
		variables:     make(map[string]*Buffer),
		randGraph:     make(map[string]*rand.Rand),
		randOp:        make(map[string]*rand.Rand),
	}
}

// GetBuffer returns the buffer cached under (name, shape), if any.
func (c *SessionCache) GetBuffer(name string, shape graph.Shape) (*Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[newBufferKey(name, shape)]
	return b, ok
}

// PutBuffer caches b under (name, shape). A buffer cached under a
// given (name, shape) is returned by identity on subsequent requests
// within the same evaluation.
func (c *SessionCache) PutBuffer(name string, shape graph.Shape, b *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers[newBufferKey(name, shape)] = b
}

// GetResultBuffer returns the result buffer cached under
// ("_result_", name, shape), if any.
func (c *SessionCache) GetResultBuffer(name string, shape graph.Shape) (*Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.resultBuffers[newBufferKey(name, shape)]
	return b, ok
}

// PutResultBuffer caches a result buffer under ("_result_", name, shape).
func (c *SessionCache) PutResultBuffer(name string, shape graph.Shape, b *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resultBuffers[newBufferKey(name, shape)] = b
}

// Variable returns the persisted buffer for a named Variable, if it has
// ever been assigned or materialized.
func (c *SessionCache) Variable(name string) (*Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.variables[name]
	return b, ok
}

// SetVariable persists the buffer backing a named Variable across runs.
func (c *SessionCache) SetVariable(name string, b *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = b
}

// RandForGraph returns (creating if needed) the session-scoped
// generator keyed by graph identity, seeded deterministically.
func (c *SessionCache) RandForGraph(graphID string, seed uint64) *rand.Rand {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.randGraph[graphID]; ok {
		return r
	}
	r := rand.New(rand.NewSource(int64(seed)))
	c.randGraph[graphID] = r
	return r
}

// RandForOp returns (creating if needed) the session-scoped generator
// keyed by operation tag, seeded deterministically.
func (c *SessionCache) RandForOp(op string, seed uint64) *rand.Rand {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.randOp[op]; ok {
		return r
	}
	r := rand.New(rand.NewSource(int64(seed)))
	c.randOp[op] = r
	return r
}

// Context is the per-run execution context: memoized results by tensor
// name, a reference to the session-scoped SessionCache, the feed map
// for placeholders, the retain set, and optional debug hooks.
type Context struct {
	Session *SessionCache

	results map[string]*Buffer
	Feed    map[string]any
	Retain  map[string]bool

	LogIntermediates bool
	History          []HistoryEntry
}

// HistoryEntry is one recorded intermediate value when LogIntermediates
// is set.
type HistoryEntry struct {
	Name        string
	DType       graph.DType
	Shape       graph.Shape
	Source      string
	Description string
	HostValue   any
}

// NewContext creates a fresh per-run context over session.
func NewContext(session *SessionCache) *Context {
	return &Context{
		Session: session,
		results: make(map[string]*Buffer),
		Feed:    make(map[string]any),
		Retain:  make(map[string]bool),
	}
}

func (c *Context) memo(name string) (*Buffer, bool) {
	b, ok := c.results[name]
	return b, ok
}

func (c *Context) setMemo(name string, b *Buffer) {
	c.results[name] = b
}

func (c *Context) feedValue(name string) (any, error) {
	v, ok := c.Feed[name]
	if !ok {
		return nil, &EvaluatorError{Kind: MissingPlaceholder, NodeName: name, Cause: fmt.Errorf("no feed entry for placeholder %q", name)}
	}
	return v, nil
}
