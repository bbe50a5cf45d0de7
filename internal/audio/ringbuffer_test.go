package audio

import (
	"testing"
	"time"
)

func frame(seq uint64) *Frame {
	return &Frame{
		Seq:      seq,
		PCM:      []int16{1, 2, 3},
		Captured: time.Unix(int64(seq), 0),
		Duration: 20 * time.Millisecond,
	}
}

func TestFrameBufferFIFO(t *testing.T) {
	buf := NewFrameBuffer(4, nil)

	for seq := uint64(1); seq <= 4; seq++ {
		buf.Push(frame(seq))
	}
	buf.Close()

	for want := uint64(1); want <= 4; want++ {
		f, ok := buf.Pop()
		if !ok {
			t.Fatalf("Pop returned closed at seq %d", want)
		}
		if f.Seq != want {
			t.Errorf("Pop order: got seq %d, want %d", f.Seq, want)
		}
	}

	if _, ok := buf.Pop(); ok {
		t.Error("Pop after drain should report closed")
	}
}

func TestFrameBufferOverflowDropsOldest(t *testing.T) {
	var dropped []uint64
	buf := NewFrameBuffer(3, func(seq uint64) {
		dropped = append(dropped, seq)
	})

	// Push never blocks: 5 frames into capacity 3 drops the 2 oldest.
	done := make(chan struct{})
	go func() {
		for seq := uint64(1); seq <= 5; seq++ {
			buf.Push(frame(seq))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked on a full buffer")
	}

	if got := buf.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2", got)
	}
	if len(dropped) != 2 || dropped[0] != 1 || dropped[1] != 2 {
		t.Fatalf("drop callback got %v, want [1 2]", dropped)
	}

	buf.Close()
	for want := uint64(3); want <= 5; want++ {
		f, ok := buf.Pop()
		if !ok || f.Seq != want {
			t.Fatalf("survivor order: got (%v, %v), want seq %d", f, ok, want)
		}
	}
}

func TestFrameBufferPushAfterClose(t *testing.T) {
	buf := NewFrameBuffer(2, nil)
	buf.Close()
	buf.Push(frame(1))

	if _, ok := buf.Pop(); ok {
		t.Error("frame pushed after close should not be delivered")
	}
}

func TestFrameBufferPopBlocksUntilPush(t *testing.T) {
	buf := NewFrameBuffer(2, nil)

	got := make(chan *Frame, 1)
	go func() {
		f, _ := buf.Pop()
		got <- f
	}()

	time.Sleep(20 * time.Millisecond)
	buf.Push(frame(7))

	select {
	case f := <-got:
		if f.Seq != 7 {
			t.Errorf("got seq %d, want 7", f.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never woke up after Push")
	}
}
