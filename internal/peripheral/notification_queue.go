package peripheral

// notificationQueue holds values that could not be handed to the transport yet.
// Insertion order is delivery order. It is not safe for concurrent use; the owning
// characteristic guards it with its mutex.
type notificationQueue struct {
	pending [][]byte
}

// push appends copies of values to the tail of the queue.
func (q *notificationQueue) push(values ...[]byte) {
	for _, v := range values {
		q.pending = append(q.pending, cloneBytes(v))
	}
}

// replace discards everything queued and keeps only value.
// Returns the number of superseded entries.
func (q *notificationQueue) replace(value []byte) int {
	superseded := len(q.pending)
	q.pending = [][]byte{cloneBytes(value)}
	return superseded
}

// takeAll removes and returns the whole backlog.
func (q *notificationQueue) takeAll() [][]byte {
	values := q.pending
	q.pending = nil
	return values
}

// snapshot returns a deep copy of the backlog.
func (q *notificationQueue) snapshot() [][]byte {
	out := make([][]byte, len(q.pending))
	for i, v := range q.pending {
		out[i] = cloneBytes(v)
	}
	return out
}

func (q *notificationQueue) len() int {
	return len(q.pending)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
