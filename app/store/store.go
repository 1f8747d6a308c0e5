// Package store implements a writable value with change subscription.
// Every Set or Update notifies all subscribers, even if the new value is equal to the old one.
// A Set made from inside a subscriber is queued and delivered after the current
// notification round completes, so subscribers never see recursive calls.
package store

import (
	"sync"
)

// Unsubscriber removes a subscription. Calling it more than once is a no-op.
type Unsubscriber func()

// Writable holds a value of type T and notifies subscribers on every change. Thread safe.
type Writable[T any] struct {
	mu         sync.Mutex
	value      T
	subs       []*subscriber[T]
	pending    []T
	notifying  bool
	nextSubsID uint64
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// New makes Writable with initial value
func New[T any](initial T) *Writable[T] {
	return &Writable[T]{value: initial}
}

// Get returns current value
func (w *Writable[T]) Get() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Set replaces the value and notifies subscribers
func (w *Writable[T]) Set(v T) {
	w.mu.Lock()
	w.value = v
	w.pending = append(w.pending, v)
	w.drain()
}

// Update sets the value returned by fn, called with the current value.
// fn runs under the lock and must not call methods of the same Writable.
func (w *Writable[T]) Update(fn func(T) T) {
	w.mu.Lock()
	v := fn(w.value)
	w.value = v
	w.pending = append(w.pending, v)
	w.drain()
}

// Subscribe registers fn, calls it with the current value right away and again on every change.
func (w *Writable[T]) Subscribe(fn func(T)) Unsubscriber {
	w.mu.Lock()
	w.nextSubsID++
	sub := &subscriber[T]{id: w.nextSubsID, fn: fn}
	w.subs = append(w.subs, sub)
	current := w.value
	w.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() { w.unsubscribe(sub.id) })
	}
}

// Subscribers returns number of active subscribers
func (w *Writable[T]) Subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

func (w *Writable[T]) unsubscribe(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.subs {
		if s.id == id {
			w.subs = append(w.subs[:i:i], w.subs[i+1:]...)
			return
		}
	}
}

// drain delivers pending values in order. Must be called with mu locked, unlocks it.
// Only one goroutine drains at a time, others just enqueue and return.
func (w *Writable[T]) drain() {
	if w.notifying {
		w.mu.Unlock()
		return
	}
	w.notifying = true
	for len(w.pending) > 0 {
		v := w.pending[0]
		w.pending = w.pending[1:]
		subs := make([]*subscriber[T], len(w.subs))
		copy(subs, w.subs)
		w.mu.Unlock()
		for _, s := range subs {
			s.fn(v)
		}
		w.mu.Lock()
	}
	w.pending = nil
	w.notifying = false
	w.mu.Unlock()
}
