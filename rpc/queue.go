// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import "sync"

// unboundedQueue is the control queue described in spec.md §2/§5: a
// single-producer-style append from any number of cloned front-end
// handles into the one background task, with no capacity limit (the
// backpressure in this design lives in the per-method handler queues,
// not here).
type unboundedQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

func newUnboundedQueue[T any]() *unboundedQueue[T] {
	return &unboundedQueue[T]{notify: make(chan struct{}, 1)}
}

// push appends v. It returns false if the queue has been closed, meaning
// the background task is gone (front-ends surface this as ErrInternal).
func (q *unboundedQueue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *unboundedQueue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest item, if any.
func (q *unboundedQueue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, true
}

// wait returns a channel that is signaled whenever an item becomes
// available (or may already have been, since signals coalesce).
func (q *unboundedQueue[T]) wait() <-chan struct{} {
	return q.notify
}

func (q *unboundedQueue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}
