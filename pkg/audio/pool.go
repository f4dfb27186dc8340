package audio

import "sync"

// BufferPool recycles scratch byte buffers on hot audio paths (windowing,
// WAV assembly). Buffers handed to callers are length n; callers return them
// with Put once the data no longer escapes.
type BufferPool struct {
	pool sync.Pool
}

func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, 0, 4096)
			},
		},
	}
}

// Get returns a buffer of length n.
func (p *BufferPool) Get(n int) []byte {
	b := p.pool.Get().([]byte)
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(b []byte) {
	if cap(b) == 0 {
		return
	}
	p.pool.Put(b[:0])
}
