package audio

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// FrameBuffer is a fixed-capacity ring buffer between the connector and the
// segmenter. Push never blocks: when the buffer is full the oldest unconsumed
// frame is dropped so the producer keeps real-time pace. Pop is consumed by a
// single reader in arrival order.
type FrameBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []*Frame
	head   int
	size   int
	closed bool

	dropped uint64
	onDrop  func(seq uint64)
}

// NewFrameBuffer creates a buffer holding at most capacity frames. onDrop, if
// non-nil, is invoked with the sequence number of every dropped frame.
func NewFrameBuffer(capacity int, onDrop func(seq uint64)) *FrameBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	b := &FrameBuffer{
		frames: make([]*Frame, capacity),
		onDrop: onDrop,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push enqueues a frame, dropping the oldest unconsumed frame when full.
// Pushing to a closed buffer is a no-op.
func (b *FrameBuffer) Push(f *Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if b.size == len(b.frames) {
		old := b.frames[b.head]
		b.head = (b.head + 1) % len(b.frames)
		b.size--
		b.dropped++
		if b.onDrop != nil {
			b.onDrop(old.Seq)
		}
		log.Warn().
			Uint64("seq", old.Seq).
			Uint64("total_dropped", b.dropped).
			Msg("Frame buffer full, dropped oldest frame")
	}

	b.frames[(b.head+b.size)%len(b.frames)] = f
	b.size++
	b.cond.Signal()
}

// Pop blocks until a frame is available or the buffer is closed. It returns
// false once the buffer is closed and fully drained.
func (b *FrameBuffer) Pop() (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.size == 0 {
		return nil, false
	}

	f := b.frames[b.head]
	b.frames[b.head] = nil
	b.head = (b.head + 1) % len(b.frames)
	b.size--
	return f, true
}

// Close marks the end of the stream. Remaining frames stay poppable.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Len reports the number of buffered, unconsumed frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped reports the total number of frames dropped due to overflow.
func (b *FrameBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
