// Package queue provides a bounded binary heap and a lazy k-way merge built on it.
package queue

// Bounded is a fixed-capacity binary heap that retains the best elements it has seen.
//
// less(a, b) reports whether a ranks below b. The root of the heap is the
// worst retained element, so once the heap is full a new value only gets in by
// displacing it.
type Bounded[T any] struct {
	less  func(a, b T) bool
	items []T
	cap   int
}

// NewBounded creates a heap that holds at most capacity elements.
func NewBounded[T any](capacity int, less func(a, b T) bool) *Bounded[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Bounded[T]{
		less:  less,
		items: make([]T, 0, capacity),
		cap:   capacity,
	}
}

// Len returns the number of retained elements.
func (q *Bounded[T]) Len() int { return len(q.items) }

// Cap returns the capacity.
func (q *Bounded[T]) Cap() int { return q.cap }

// Top returns the worst retained element.
func (q *Bounded[T]) Top() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Add inserts v while under capacity. Once full, v replaces the worst element
// only if it ranks above it. Add reports whether v was retained.
func (q *Bounded[T]) Add(v T) bool {
	if len(q.items) < q.cap {
		q.items = append(q.items, v)
		q.siftUp(len(q.items) - 1)
		return true
	}
	if q.cap == 0 || !q.less(q.items[0], v) {
		return false
	}
	q.items[0] = v
	q.siftDown(0)
	return true
}

// AddEx is Add that also returns the element that left the heap: the evicted
// worst element, or v itself when it was rejected. The boolean is false when
// nothing left the heap.
func (q *Bounded[T]) AddEx(v T) (T, bool) {
	if len(q.items) < q.cap {
		q.items = append(q.items, v)
		q.siftUp(len(q.items) - 1)
		var zero T
		return zero, false
	}
	if q.cap == 0 || !q.less(q.items[0], v) {
		return v, true
	}
	out := q.items[0]
	q.items[0] = v
	q.siftDown(0)
	return out, true
}

// Pop removes and returns the worst retained element.
func (q *Bounded[T]) Pop() (T, bool) {
	var zero T
	n := len(q.items)
	if n == 0 {
		return zero, false
	}
	root := q.items[0]
	last := q.items[n-1]
	q.items[n-1] = zero
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root, true
}

// Reset drops all elements.
func (q *Bounded[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
}

func (q *Bounded[T]) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(q.items[i], q.items[p]) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *Bounded[T]) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		worst := l
		if r := l + 1; r < n && q.less(q.items[r], q.items[l]) {
			worst = r
		}
		if !q.less(q.items[worst], q.items[i]) {
			return
		}
		q.items[i], q.items[worst] = q.items[worst], q.items[i]
		i = worst
	}
}
