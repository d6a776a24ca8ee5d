package broadcast

import (
	"sync"
	"time"
)

// Ring is the shared broadcast buffer: a fixed-capacity window of the
// most recent encoded chunks, each tagged with a gapless, strictly
// increasing sequence number. One producer appends; any number of
// listener cursors read concurrently. Every listener inside the
// retained window observes the identical chunk sequence.
type Ring struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	cap    uint64
	next   uint64 // sequence the producer assigns next
}

func NewRing(capacity int) *Ring {
	r := &Ring{
		chunks: make([][]byte, capacity),
		cap:    uint64(capacity),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Append stores the next chunk, evicting the oldest once the ring is
// full, and wakes all waiting readers. Producer-only.
func (r *Ring) Append(chunk []byte) {
	owned := make([]byte, len(chunk))
	copy(owned, chunk)

	r.mu.Lock()
	r.chunks[r.next%r.cap] = owned
	r.next++
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Cursor returns the starting sequence for a new listener: the current
// live edge, so fresh clients never hear stale backlog.
func (r *Ring) Cursor() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next == 0 {
		return 0
	}
	return r.next - 1
}

// ReadFrom returns the chunk at seq and the next sequence to request.
// A cursor below the retained floor has fallen too far behind and is
// silently resynchronized to the live edge. A cursor at the live
// frontier blocks until data arrives or timeout elapses; on timeout ok
// is false so the session can check liveness and retry.
func (r *Ring) ReadFrom(seq uint64, timeout time.Duration) (chunk []byte, next uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq > r.next {
		seq = r.next
	}

	deadline := time.Now().Add(timeout)
	for seq == r.next {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, seq, false
		}
		t := time.AfterFunc(remaining, func() {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		})
		r.cond.Wait()
		t.Stop()
	}

	if r.next > r.cap {
		if floor := r.next - r.cap; seq < floor {
			seq = r.next - 1
		}
	}

	return r.chunks[seq%r.cap], seq + 1, true
}

// Len reports how many chunks are currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next < r.cap {
		return int(r.next)
	}
	return int(r.cap)
}
