// Package bufpool implements a small idle-list pool of scratch buffers
// for the writer's hot chunk-building path, so a session need not
// allocate a fresh slice for every outbound chunk. Adapted from the
// teacher's pkg/optimization/pool.go idle-list connection pool (same
// Get/Put-with-stats shape), narrowed from pooled net.Conn wrappers to
// pooled []byte scratch buffers sized to the writer's current
// chunk_size_out (spec.md §9 Q6: resize on change rather than
// first-setter-wins).
package bufpool

import "sync"

const defaultMaxIdle = 32

// Pool is a bounded idle-list of reusable scratch buffers, each with at
// least size bytes of capacity. Get returns a zero-length slice drawn
// from the idle list when one is large enough, allocating fresh
// otherwise; Put returns a buffer to the idle list for reuse, dropping
// it if it is now undersized (after a Resize) or the idle list is full.
type Pool struct {
	mu      sync.Mutex
	size    int
	maxIdle int
	idle    [][]byte

	gets   uint64
	puts   uint64
	misses uint64
}

// New creates a pool whose buffers are sized to chunkSize+headroom
// bytes, enough for one physical chunk's basic header, the largest
// (type-0) message header, and up to chunkSize payload bytes.
func New(chunkSize uint32) *Pool {
	return &Pool{
		size:    int(chunkSize) + headroom,
		maxIdle: defaultMaxIdle,
	}
}

// headroom covers the 1-byte basic header plus the largest message
// header this writer emits (type-0: 3+3+1+4 bytes).
const headroom = 1 + 3 + 3 + 1 + 4

// Get returns a zero-length scratch buffer with at least the pool's
// current target capacity, reusing an idle buffer when one fits.
func (p *Pool) Get() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets++

	for n := len(p.idle); n > 0; n = len(p.idle) {
		buf := p.idle[n-1]
		p.idle = p.idle[:n-1]
		if cap(buf) >= p.size {
			return buf[:0]
		}
		// undersized after a Resize -- drop it and keep looking.
	}
	p.misses++
	return make([]byte, 0, p.size)
}

// Put returns buf to the idle list for reuse, unless it is undersized
// for the pool's current target size or the idle list is already full.
func (p *Pool) Put(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.puts++

	if cap(buf) < p.size || len(p.idle) >= p.maxIdle {
		return
	}
	p.idle = append(p.idle, buf)
}

// Resize changes the target buffer size for future Get calls. Idle
// buffers that are now undersized are dropped lazily, the next time Get
// finds them too small, rather than reallocated eagerly here.
func (p *Pool) Resize(chunkSize uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.size = int(chunkSize) + headroom
}

// Size returns the current target buffer size.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Stats reports the pool's lifetime usage counters, for pkg/metrics.
type Stats struct {
	Gets   uint64
	Puts   uint64
	Misses uint64
}

// Stats returns the pool's lifetime Get/Put/miss counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Gets: p.gets, Puts: p.puts, Misses: p.misses}
}
