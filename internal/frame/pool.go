package frame

// Buffer is a reusable byte buffer owned by a Pool. Its backing array grows
// to the largest frame it has carried and is then reused as-is.
type Buffer struct {
	data []byte
}

// ensure returns the first n bytes of the buffer, growing it if needed while
// preserving bytes already written.
func (b *Buffer) ensure(n int) []byte {
	if n <= len(b.data) {
		return b.data[:n]
	}
	if n <= cap(b.data) {
		b.data = b.data[:n]
		return b.data
	}
	grown := make([]byte, n, max(n, 2*cap(b.data)))
	copy(grown, b.data)
	b.data = grown
	return b.data
}

// reset forgets the buffer's contents but keeps its capacity.
func (b *Buffer) reset() {
	b.data = b.data[:0]
}

// Pool is a fixed set of Buffers. Buffers are allocated once by NewPool;
// acquisition never blocks and never allocates.
type Pool struct {
	free     chan *Buffer
	capacity int
}

// NewPool pre-allocates capacity buffers of initialSize bytes each.
func NewPool(capacity, initialSize int) *Pool {
	capacity = max(capacity, 1)
	p := &Pool{
		free:     make(chan *Buffer, capacity),
		capacity: capacity,
	}
	for range capacity {
		p.free <- &Buffer{data: make([]byte, 0, initialSize)}
	}
	return p
}

// TryAcquire takes a buffer from the pool. It returns false immediately when
// the pool is exhausted.
func (p *Pool) TryAcquire() (*Buffer, bool) {
	select {
	case b := <-p.free:
		return b, true
	default:
		return nil, false
	}
}

// Release returns b to the pool. A buffer that would exceed the pool's
// capacity is discarded.
func (p *Pool) Release(b *Buffer) {
	if b == nil {
		return
	}
	b.reset()
	select {
	case p.free <- b:
	default:
	}
}

// Available is the number of buffers currently in the pool.
func (p *Pool) Available() int { return len(p.free) }

// Capacity is the number of buffers the pool was created with.
func (p *Pool) Capacity() int { return p.capacity }
