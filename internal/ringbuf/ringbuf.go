// Package ringbuf provides a bounded FIFO ring that keeps only the most recent
// N values. Pushing into a full ring evicts the oldest value.
//
// A Ring is not safe for concurrent use; owners serialize access.
package ringbuf

// Ring is a fixed-capacity ring of T values ordered oldest to newest.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest value
	count int

	// Total values evicted by Push on a full ring (for metrics)
	evicted uint64
}

// New creates a ring holding at most capacity values. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v as the newest value. When the ring is full the oldest value
// is dropped and returned with ok=true.
func (r *Ring[T]) Push(v T) (dropped T, ok bool) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return dropped, false
	}

	dropped = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.evicted++
	return dropped, true
}

// At returns the i-th value counting from the oldest (0) to the newest (Len-1).
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Newest returns the most recent value, false when empty.
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.At(r.count - 1), true
}

// Snapshot copies the values oldest to newest.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.At(i)
	}
	return out
}

// Tail copies up to n of the newest values, oldest first.
func (r *Ring[T]) Tail(n int) []T {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	start := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.At(start + i)
	}
	return out
}

// Len returns the current number of values.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Evicted returns the total number of values dropped by Push.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// Reset empties the ring without releasing its storage.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.count = 0, 0
}
