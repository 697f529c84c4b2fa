package kernels

import (
	"embed"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/tensorcl/pkg/opencl"
)

//go:embed kernels/*.cl
var resourceDir embed.FS

// Registry lazily compiles kernel programs from the embedded resource
// directory, keyed by operation name, and caches the compiled program
// for the evaluator's lifetime.
type Registry struct {
	dev *opencl.Device

	mu       sync.Mutex
	programs map[string]*opencl.Program
	digests  map[string][32]byte // blake2b-256 of the source last compiled, for hot-reload detection

	sources *SourceCache
}

// NewRegistry creates a registry bound to dev. sourceTTL controls how
// long raw source text is cached before a re-read is attempted (see
// SourceCache doc); 0 disables hot-reload entirely, so source is read
// once and compiled once for the lifetime of the registry.
func NewRegistry(dev *opencl.Device, sourceTTL time.Duration) *Registry {
	return &Registry{
		dev:      dev,
		programs: make(map[string]*opencl.Program),
		digests:  make(map[string][32]byte),
		sources:  NewSourceCache(64, sourceTTL),
	}
}

// Program returns the compiled program for opName, compiling and
// caching it on first use. Build failures surface the device build log
// (wrapped by the caller into a KernelBuildFailure).
func (r *Registry) Program(opName string) (*opencl.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	source, digest, err := r.readSource(opName)
	if err != nil {
		return nil, err
	}

	if prog, ok := r.programs[opName]; ok && r.digests[opName] == digest {
		return prog, nil
	}

	prog, err := r.dev.BuildProgram(source, opName)
	if err != nil {
		return nil, err
	}
	r.programs[opName] = prog
	r.digests[opName] = digest
	return prog, nil
}

// Kernel resolves a named entry point within opName's program,
// compiling the program first if needed.
func (r *Registry) Kernel(opName, entryPoint string) (*opencl.Kernel, error) {
	prog, err := r.Program(opName)
	if err != nil {
		return nil, err
	}
	return prog.Kernel(entryPoint)
}

func (r *Registry) readSource(opName string) (string, [32]byte, error) {
	key := r.sources.Key(opName)
	if src, ok := r.sources.Get(key); ok {
		return src, blake2b.Sum256([]byte(src)), nil
	}

	raw, err := resourceDir.ReadFile(fmt.Sprintf("kernels/%s.cl", opName))
	if err != nil {
		return "", [32]byte{}, fmt.Errorf("kernels: read resource for op %q: %w", opName, err)
	}
	src := string(raw)
	r.sources.Put(key, src)
	return src, blake2b.Sum256(raw), nil
}

// DigestHex returns the last-compiled source digest for opName as hex,
// or "" if opName has never been compiled. Exposed for diagnostics: the
// `bench` CLI command reports the gemm kernel's digest alongside its
// timing so a rebuilt kernel source shows up in the output.
func (r *Registry) DigestHex(opName string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.digests[opName]
	if !ok {
		return ""
	}
	return hex.EncodeToString(d[:])
}
