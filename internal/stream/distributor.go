package stream

import (
	"context"
	"time"
)

// DefaultQueueCapacity bounds the encoded-frame queue between the pipeline
// and viewer sessions.
const DefaultQueueCapacity = 1000

// Distributor is a bounded queue of encoded frames shared by all viewer
// sessions. The producer never blocks: when the queue is full the oldest
// frame is evicted to make room (drop-oldest back-pressure). Viewers drain
// the same queue, so simultaneous viewers compete for frames.
type Distributor struct {
	frames chan []byte
}

// NewDistributor creates a distributor with the given capacity.
func NewDistributor(capacity int) *Distributor {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Distributor{
		frames: make(chan []byte, capacity),
	}
}

// Put enqueues an encoded frame, evicting the oldest entry first when the
// queue is full. Returns true when an eviction happened.
func (d *Distributor) Put(frame []byte) bool {
	select {
	case d.frames <- frame:
		return false
	default:
	}

	// Full: drop exactly one oldest entry, then insert. A concurrent viewer
	// may have drained the queue in between, so both steps stay non-blocking.
	evicted := false
	select {
	case <-d.frames:
		evicted = true
	default:
	}
	select {
	case d.frames <- frame:
	default:
	}
	return evicted
}

// Next returns the next frame, waiting up to timeout. The second return is
// false when the wait timed out or the context was cancelled; callers should
// re-check stream liveness before waiting again.
func (d *Distributor) Next(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-d.frames:
		return frame, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Len returns the number of buffered frames.
func (d *Distributor) Len() int {
	return len(d.frames)
}

// Cap returns the queue capacity.
func (d *Distributor) Cap() int {
	return cap(d.frames)
}
