// Package event provides a small typed observer used by files and managers
// to announce content updates and load completion.
package event

import "sync"

// Handler receives a dispatched value.
type Handler[T any] func(T)

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
	once    bool
}

// Dispatcher delivers values to its subscribers in subscription order.
// The zero value is ready to use.
type Dispatcher[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription[T]
}

// Subscribe registers h and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (d *Dispatcher[T]) Subscribe(h Handler[T]) func() {
	return d.add(h, false)
}

// SubscribeOnce registers h for the next dispatch only.
func (d *Dispatcher[T]) SubscribeOnce(h Handler[T]) func() {
	return d.add(h, true)
}

func (d *Dispatcher[T]) add(h Handler[T], once bool) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription[T]{id: id, handler: h, once: once})

	return func() { d.remove(id) }
}

func (d *Dispatcher[T]) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.subs {
		if d.subs[i].id == id {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

// Dispatch calls every subscriber with v. Handlers run outside the lock
// so they may subscribe or unsubscribe.
func (d *Dispatcher[T]) Dispatch(v T) {
	d.mu.Lock()
	handlers := make([]Handler[T], 0, len(d.subs))
	kept := d.subs[:0]
	for _, s := range d.subs {
		handlers = append(handlers, s.handler)
		if !s.once {
			kept = append(kept, s)
		}
	}
	// Clear the tail so dropped handlers can be collected.
	for i := len(kept); i < len(d.subs); i++ {
		d.subs[i] = subscription[T]{}
	}
	d.subs = kept
	d.mu.Unlock()

	for _, h := range handlers {
		h(v)
	}
}

// Len returns the number of active subscriptions.
func (d *Dispatcher[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
