// Package observer broadcasts values to subscribers that hold a Handle.
// Subscriptions end when the handle is released or garbage collected;
// dead entries are pruned lazily.
package observer

import (
	"sync/atomic"
	"weak"

	"github.com/puzpuzpuz/xsync/v4"
)

// Handle keeps a subscription alive. Callbacks must not capture their own
// Handle, or it can never be collected.
type Handle struct {
	id       uint64
	released atomic.Bool
}

// Release ends the subscription. Safe to call more than once.
func (h *Handle) Release() {
	if h != nil {
		h.released.Store(true)
	}
}

type entry[T any] struct {
	handle weak.Pointer[Handle]
	fn     func(T)
}

func (e entry[T]) live() bool {
	h := e.handle.Value()
	return h != nil && !h.released.Load()
}

// Registry is a set of callbacks notified on a single delivery goroutine.
type Registry[T any] struct {
	entries   *xsync.Map[uint64, entry[T]]
	nextID    atomic.Uint64
	queue     *Queue
	ownsQueue bool
}

// NewRegistry creates a registry delivering on q. A nil q gets a private
// queue that Close shuts down.
func NewRegistry[T any](q *Queue) *Registry[T] {
	r := &Registry[T]{entries: xsync.NewMap[uint64, entry[T]]()}
	if q == nil {
		q = NewQueue()
		r.ownsQueue = true
	}
	r.queue = q
	return r
}

// Add registers fn and returns the handle that keeps it registered.
func (r *Registry[T]) Add(fn func(T)) *Handle {
	h := &Handle{id: r.nextID.Add(1)}
	r.entries.Store(h.id, entry[T]{handle: weak.Make(h), fn: fn})
	return h
}

// Notify delivers v to every live observer exactly once.
func (r *Registry[T]) Notify(v T) {
	r.queue.Submit(func() {
		r.entries.Range(func(_ uint64, e entry[T]) bool {
			if e.live() {
				e.fn(v)
			}
			return true
		})
	})
}

// Prune drops released and collected entries and returns how many remain.
func (r *Registry[T]) Prune() int {
	r.entries.Range(func(id uint64, e entry[T]) bool {
		if !e.live() {
			r.entries.Delete(id)
		}
		return true
	})
	return r.entries.Size()
}

// Len returns the number of entries, including dead ones not yet pruned.
func (r *Registry[T]) Len() int {
	return r.entries.Size()
}

// Flush waits for pending notifications to be delivered.
func (r *Registry[T]) Flush() {
	r.queue.Flush()
}

// Close stops the private delivery queue, if any.
func (r *Registry[T]) Close() {
	if r.ownsQueue {
		r.queue.Close()
	}
}
