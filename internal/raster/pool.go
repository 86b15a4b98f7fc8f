package raster

import (
	"fmt"
	"sync"
)

// DefaultPoolCapacity is the number of idle buffers kept for reuse.
const DefaultPoolCapacity = 4

// Pool recycles buffers keyed by their dimensions.
// Releases beyond capacity are dropped and left to the garbage collector.
type Pool struct {
	mu       sync.Mutex
	capacity int
	idle     map[string][]*Buffer
	count    int

	// Statistics
	hits    uint64
	misses  uint64
	dropped uint64
}

// PoolStats holds pool usage counters.
type PoolStats struct {
	Idle    int
	Hits    uint64
	Misses  uint64
	Dropped uint64
}

// NewPool creates a pool that keeps at most capacity idle buffers.
func NewPool(capacity int) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool{
		capacity: capacity,
		idle:     make(map[string][]*Buffer),
	}
}

func poolKey(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}

// Acquire returns a zeroed w x h buffer, reusing an idle one when available.
func (p *Pool) Acquire(w, h int) *Buffer {
	if p == nil {
		return New(w, h)
	}

	p.mu.Lock()
	key := poolKey(w, h)
	list := p.idle[key]
	if n := len(list); n > 0 {
		b := list[n-1]
		list[n-1] = nil
		if n == 1 {
			delete(p.idle, key)
		} else {
			p.idle[key] = list[:n-1]
		}
		p.count--
		p.hits++
		p.mu.Unlock()

		b.Clear()
		return b
	}
	p.misses++
	p.mu.Unlock()

	return New(w, h)
}

// Release hands b back to the pool. Strided views are never pooled.
func (p *Pool) Release(b *Buffer) {
	if p == nil || b == nil || b.Width == 0 || b.Height == 0 || !b.Packed() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count >= p.capacity {
		p.dropped++
		return
	}
	key := poolKey(b.Width, b.Height)
	p.idle[key] = append(p.idle[key], b)
	p.count++
}

// Clear drops every idle buffer.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.idle = make(map[string][]*Buffer)
	p.count = 0
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Idle:    p.count,
		Hits:    p.hits,
		Misses:  p.misses,
		Dropped: p.dropped,
	}
}
