package pool

import (
	"container/list"
	"time"
)

// waitResult is what a queued acquisition is resolved with.
type waitResult[T any] struct {
	conn *Conn[T]
	err  error
}

// waiter is one queued acquisition request.
type waiter[T any] struct {
	priority int
	enqueued time.Time
	// result is buffered so the pool never blocks resolving a waiter.
	result chan waitResult[T]
	// elem is nil once the waiter has left the queue.
	elem *list.Element
	// creating is set while a create started for this waiter is in flight.
	creating bool
}

// waitQueue holds one FIFO list per priority level. Level 0 is served
// first. Push, pop and remove are O(1) in the number of waiters.
type waitQueue[T any] struct {
	buckets []*list.List
	n       int
}

func newWaitQueue[T any](levels int) *waitQueue[T] {
	if levels < 1 {
		levels = 1
	}
	q := &waitQueue[T]{buckets: make([]*list.List, levels)}
	for i := range q.buckets {
		q.buckets[i] = list.New()
	}
	return q
}

// clamp maps a requested priority onto a bucket index.
func (q *waitQueue[T]) clamp(priority int) int {
	if priority < 0 {
		return 0
	}
	if priority >= len(q.buckets) {
		return len(q.buckets) - 1
	}
	return priority
}

func (q *waitQueue[T]) push(priority int) *waiter[T] {
	w := &waiter[T]{
		priority: q.clamp(priority),
		enqueued: time.Now(),
		result:   make(chan waitResult[T], 1),
	}
	w.elem = q.buckets[w.priority].PushBack(w)
	q.n++
	return w
}

// pop removes and returns the next waiter to serve, or nil.
func (q *waitQueue[T]) pop() *waiter[T] {
	if q.n == 0 {
		return nil
	}
	for _, b := range q.buckets {
		if e := b.Front(); e != nil {
			w := b.Remove(e).(*waiter[T])
			w.elem = nil
			q.n--
			return w
		}
	}
	return nil
}

// remove takes w out of the queue. It reports false if w was already
// popped.
func (q *waitQueue[T]) remove(w *waiter[T]) bool {
	if w.elem == nil {
		return false
	}
	q.buckets[w.priority].Remove(w.elem)
	w.elem = nil
	q.n--
	return true
}

// each calls fn for every queued waiter in service order until fn
// returns false.
func (q *waitQueue[T]) each(fn func(*waiter[T]) bool) {
	for _, b := range q.buckets {
		for e := b.Front(); e != nil; e = e.Next() {
			if !fn(e.Value.(*waiter[T])) {
				return
			}
		}
	}
}

// drain empties the queue in service order.
func (q *waitQueue[T]) drain() []*waiter[T] {
	out := make([]*waiter[T], 0, q.n)
	for w := q.pop(); w != nil; w = q.pop() {
		out = append(out, w)
	}
	return out
}

func (q *waitQueue[T]) Len() int {
	return q.n
}
