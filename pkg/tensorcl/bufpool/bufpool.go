// Package bufpool is a sync.Pool-based size-classed allocator for the
// byte slices backing Device Buffer host arrays, reducing allocator
// pressure for the many small scratch buffers the evaluator creates
// during broadcast, reshape, and reduce host round-trips.
package bufpool

import "sync"

// sizeClasses are the pool buckets, in bytes. A request larger than the
// largest class falls back to a plain allocation (no pooling) — most
// scratch buffers in this evaluator are small (broadcast/reshape
// intermediates, gradient axis lists), so large allocations simply
// bypass pooling rather than need dedicated bucket management.
var sizeClasses = []int{64, 256, 1024, 4096, 16384, 65536}

var pools = func() []*sync.Pool {
	ps := make([]*sync.Pool, len(sizeClasses))
	for i, sz := range sizeClasses {
		sz := sz
		ps[i] = &sync.Pool{New: func() any { return make([]byte, sz) }}
	}
	return ps
}()

func classFor(n int) int {
	for i, sz := range sizeClasses {
		if n <= sz {
			return i
		}
	}
	return -1
}

// Get returns a zero-length-safe byte slice of length n, backed by a
// pooled allocation when n fits a size class.
func Get(n int) []byte {
	if n <= 0 {
		return nil
	}
	idx := classFor(n)
	if idx < 0 {
		return make([]byte, n)
	}
	buf := pools[idx].Get().([]byte)
	if cap(buf) < n {
		buf = make([]byte, sizeClasses[idx])
	}
	for i := range buf[:n] {
		buf[i] = 0
	}
	return buf[:n]
}

// Put returns a slice previously obtained from Get to its pool. Slices
// whose capacity is not exactly a size class (including slices Get
// allocated outside the pools) are silently dropped.
func Put(buf []byte) {
	idx := classFor(cap(buf))
	if idx < 0 || sizeClasses[idx] != cap(buf) {
		return
	}
	pools[idx].Put(buf[:cap(buf)])
}
