package transport

import "sync"

// frameQueue is a bounded queue of encoded outbound frames. Pushing onto a
// full queue drops the oldest frame so playback stays close to real time.
type frameQueue struct {
	mu sync.Mutex
	ch chan []byte
}

func newFrameQueue(size int) *frameQueue {
	return &frameQueue{ch: make(chan []byte, size)}
}

// push enqueues data and reports whether an older frame was dropped.
func (q *frameQueue) push(data []byte) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		select {
		case q.ch <- data:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped = true
		default:
		}
	}
}

// drain discards every queued frame.
func (q *frameQueue) drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

func (q *frameQueue) len() int {
	return len(q.ch)
}
