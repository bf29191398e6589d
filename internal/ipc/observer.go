package ipc

import "sync"

// Observers is an append-only subscriber list with removable tokens
type Observers[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs []subscriber[T]
}

type subscriber[T any] struct {
	token uint64
	fn    func(T)
}

// Add registers fn and returns a function that removes it
func (o *Observers[T]) Add(fn func(T)) (remove func()) {
	o.mu.Lock()
	token := o.next
	o.next++
	o.subs = append(o.subs, subscriber[T]{token: token, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(token) })
	}
}

func (o *Observers[T]) remove(token uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, s := range o.subs {
		if s.token == token {
			o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every subscriber in registration order
func (o *Observers[T]) Emit(v T) {
	o.mu.RLock()
	subs := o.subs
	o.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers
func (o *Observers[T]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}
