package conn

import "metaui/internal/protocol"

// DefaultQueueCapacity bounds events held while disconnected.
const DefaultQueueCapacity = 128

// Queue is a FIFO of outbound envelopes that drops its oldest entry when
// full. It is owned by the manager loop.
type Queue struct {
	buf     []protocol.ClientEnvelope
	head    int
	size    int
	dropped int
}

// NewQueue returns a queue holding at most capacity envelopes.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{buf: make([]protocol.ClientEnvelope, capacity)}
}

// Push appends env, evicting the oldest entry when full. It reports whether
// an entry was dropped.
func (q *Queue) Push(env protocol.ClientEnvelope) bool {
	capacity := len(q.buf)
	if q.size == capacity {
		q.buf[q.head] = env
		q.head = (q.head + 1) % capacity
		q.dropped++
		return true
	}
	q.buf[(q.head+q.size)%capacity] = env
	q.size++
	return false
}

// Drain removes and returns every queued envelope, oldest first.
func (q *Queue) Drain() []protocol.ClientEnvelope {
	out := make([]protocol.ClientEnvelope, 0, q.size)
	for i := 0; i < q.size; i++ {
		idx := (q.head + i) % len(q.buf)
		out = append(out, q.buf[idx])
		q.buf[idx] = protocol.ClientEnvelope{}
	}
	q.head, q.size = 0, 0
	return out
}

func (q *Queue) Len() int     { return q.size }
func (q *Queue) Cap() int     { return len(q.buf) }
func (q *Queue) Dropped() int { return q.dropped }
