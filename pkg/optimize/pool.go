// Package optimize holds allocation helpers for hot paths.
package optimize

import (
	"sync"
)

// BytePool recycles fixed-size byte slices. The RTP read loop gets one
// buffer per track; pooling keeps per-packet allocations off the heap.
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a pool of slices of the given size.
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get returns a slice of the pool's size.
func (p *BytePool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a slice to the pool. Undersized slices are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) >= p.size {
		p.pool.Put(b[:p.size])
	}
}
