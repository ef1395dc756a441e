// Package rolling implements a fixed-capacity, insertion-ordered ring buffer.
// It backs the per-device telemetry history: pushing beyond capacity evicts
// the oldest entry in O(1). The ring is not synchronized; callers lock.
package rolling

// Ring holds at most Cap() items, oldest first.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest item when full
	n    int
}

func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest item if the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *Ring[T]) Len() int { return r.n }

func (r *Ring[T]) Cap() int { return len(r.buf) }

// Snapshot returns a copy of the current contents, oldest first. The copy is
// detached: later pushes do not affect it.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
