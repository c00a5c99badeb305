// Package eventbus provides typed, multi-subscriber, synchronous-dispatch
// publication for the events the core emits (spec.md section 5). Dispatch
// happens in-thread on whichever receive goroutine produced the event;
// listener lists use copy-on-iterate semantics so a listener may add or
// remove subscriptions of its own without deadlocking, the same shape as
// the teacher's RegistrationNotifier pub/sub.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is an opaque handle returned by each typed subscribe call.
// Unlike an index into a slice, it stays valid across concurrent
// add/remove and is what Unsubscribe takes back.
type Subscription uuid.UUID

func newSubscription() Subscription {
	return Subscription(uuid.New())
}

// list is a generic copy-on-iterate listener registry for one event type.
type list[T any] struct {
	mu        sync.Mutex
	listeners map[Subscription]T
}

func newList[T any]() *list[T] {
	return &list[T]{listeners: make(map[Subscription]T)}
}

func (l *list[T]) add(fn T) Subscription {
	if any(fn) == nil {
		return Subscription{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := newSubscription()
	l.listeners[id] = fn
	return id
}

func (l *list[T]) remove(id Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.listeners, id)
}

// snapshot returns a copy of the current listeners so dispatch can iterate
// without holding the lock (and so a listener may itself subscribe or
// unsubscribe without deadlocking).
func (l *list[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.listeners) == 0 {
		return nil
	}
	out := make([]T, 0, len(l.listeners))
	for _, fn := range l.listeners {
		out = append(out, fn)
	}
	return out
}
