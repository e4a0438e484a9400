package queue

// head is the current element of one input sequence.
type head[T any] struct {
	v    T
	src  int
	done bool
}

// Merge lazily merges ascending input sequences into one ascending sequence.
//
// Each next function yields the following element of its sequence and false
// once exhausted. Duplicates are preserved; equal elements come out in input
// order. The returned function yields false after every input is exhausted.
//
// The merge keeps len(next)-1 heads in a Bounded heap that retains the largest
// ones. Feeding the remaining head through AddEx pushes out the smallest of
// all heads, which is the next element to emit. Exhausted inputs rank above
// everything so they only leave the heap once all inputs are drained.
func Merge[T any](next []func() (T, bool), less func(a, b T) bool) func() (T, bool) {
	if len(next) == 0 {
		return func() (T, bool) {
			var zero T
			return zero, false
		}
	}

	below := func(a, b head[T]) bool {
		switch {
		case a.done:
			return false
		case b.done:
			return true
		case less(a.v, b.v):
			return true
		case less(b.v, a.v):
			return false
		default:
			return a.src < b.src
		}
	}

	pull := func(src int) head[T] {
		v, ok := next[src]()
		return head[T]{v: v, src: src, done: !ok}
	}

	q := NewBounded(len(next)-1, below)
	var cur head[T]
	for i := range next {
		if out, ok := q.AddEx(pull(i)); ok {
			cur = out
		}
	}

	return func() (T, bool) {
		if cur.done {
			var zero T
			return zero, false
		}
		out := cur.v
		cur, _ = q.AddEx(pull(cur.src))
		return out, true
	}
}

// FromSlice returns a next function over s.
func FromSlice[T any](s []T) func() (T, bool) {
	i := 0
	return func() (T, bool) {
		if i >= len(s) {
			var zero T
			return zero, false
		}
		v := s[i]
		i++
		return v, true
	}
}
