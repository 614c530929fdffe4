package anyauth

import "sync"

// Emitter is a minimal subscribe/emit channel. Listeners are invoked
// synchronously, in subscription order, once per Emit. A listener added
// during an emit does not see that emission but sees the next one.
type Emitter[T any] struct {
	mu      sync.Mutex
	nextID  int
	order   []int
	loaders map[int]func(T)
}

// NewEmitter creates an empty emitter.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{loaders: make(map[int]func(T))}
}

// Subscribe registers fn and returns an unsubscribe handle. Unsubscribing
// twice is harmless.
func (e *Emitter[T]) Subscribe(fn func(T)) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.order = append(e.order, id)
	e.loaders[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.loaders[id]; !ok {
			return
		}
		delete(e.loaders, id)
		for i, v := range e.order {
			if v == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers v to every listener subscribed before the call.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	fns := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		if fn, ok := e.loaders[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of active listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loaders)
}
