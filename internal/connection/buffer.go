package connection

import "sync"

// frameBuffer is a growable ring buffer between the socket read loop and
// callback dispatch, so a slow OnMessage handler cannot stall reads.
// It doubles its capacity when it reaches 70% full.
type frameBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []Envelope
	head   int
	tail   int
	count  int
	closed bool
}

func newFrameBuffer(initialCapacity int) *frameBuffer {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &frameBuffer{buf: make([]Envelope, initialCapacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push adds a frame, growing the ring if needed. Returns false when closed.
func (b *frameBuffer) push(env Envelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (len(b.buf) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = env
	b.tail = (b.tail + 1) % len(b.buf)
	b.count++
	b.cond.Signal()
	return true
}

// pop blocks until a frame is available or the buffer is closed and
// drained. The second return is false once exhausted.
func (b *frameBuffer) pop() (Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		return Envelope{}, false
	}

	env := b.buf[b.head]
	b.buf[b.head] = Envelope{}
	b.head = (b.head + 1) % len(b.buf)
	b.count--
	return env, true
}

// close wakes all waiters; buffered frames remain poppable.
func (b *frameBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

func (b *frameBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *frameBuffer) grow() {
	next := make([]Envelope, len(b.buf)*2)
	for i := 0; i < b.count; i++ {
		next[i] = b.buf[(b.head+i)%len(b.buf)]
	}
	b.buf = next
	b.head = 0
	b.tail = b.count
}
