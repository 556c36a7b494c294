package audio

import (
	"io"
	"sync"
)

// NonBlockingWriter decouples the capture producer from downstream
// consumers. Writes copy the frame onto a bounded queue and return
// immediately; a pump goroutine drains the queue into dst. When the queue
// is full the oldest frame is dropped — losing audio is preferable to
// stalling capture.
type NonBlockingWriter struct {
	dst     io.Writer
	mu      sync.Mutex
	queue   [][]byte
	depth   int
	dropped uint64
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewNonBlockingWriter wraps dst with a queue of depth frames and starts
// the pump.
func NewNonBlockingWriter(dst io.Writer, depth int) *NonBlockingWriter {
	if depth <= 0 {
		depth = 256
	}
	w := &NonBlockingWriter{
		dst:   dst,
		depth: depth,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go w.pump()
	return w
}

// Write enqueues a copy of p. It never blocks and never reports downstream
// errors; those surface through the pump's drop accounting instead.
func (w *NonBlockingWriter) Write(p []byte) (int, error) {
	frame := append([]byte(nil), p...)

	w.mu.Lock()
	if len(w.queue) >= w.depth {
		w.queue = w.queue[1:]
		w.dropped++
	}
	w.queue = append(w.queue, frame)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Dropped returns how many frames were discarded due to backpressure.
func (w *NonBlockingWriter) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close stops the pump after the queue drains.
func (w *NonBlockingWriter) Close() error {
	w.once.Do(func() { close(w.done) })
	return nil
}

func (w *NonBlockingWriter) pump() {
	for {
		w.mu.Lock()
		var frame []byte
		if len(w.queue) > 0 {
			frame = w.queue[0]
			w.queue = w.queue[1:]
		}
		w.mu.Unlock()

		if frame != nil {
			_, _ = w.dst.Write(frame)
			continue
		}

		select {
		case <-w.wake:
		case <-w.done:
			return
		}
	}
}
