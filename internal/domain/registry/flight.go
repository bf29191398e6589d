package registry

import (
	"context"
	"sync"
)

// flight is a get-or-create map whose values may still be in flight.
// Concurrent callers for one key share a single create call; a failed
// create leaves no entry behind.
type flight[K comparable, V comparable] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
	order []K
}

type call[V comparable] struct {
	done chan struct{}
	val  V
	err  error
}

func newFlight[K comparable, V comparable]() *flight[K, V] {
	return &flight[K, V]{calls: make(map[K]*call[V])}
}

func (c *call[V]) wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// GetOrCreate returns the value for key, running create if no call is
// registered. create runs detached from the caller's cancellation so an
// impatient first caller does not fail the others.
func (f *flight[K, V]) GetOrCreate(ctx context.Context, key K, create func(context.Context) (V, error)) (V, error) {
	f.mu.Lock()
	if c, ok := f.calls[key]; ok {
		f.mu.Unlock()
		return c.wait(ctx)
	}
	c := &call[V]{done: make(chan struct{})}
	f.calls[key] = c
	f.order = append(f.order, key)
	f.mu.Unlock()

	go func() {
		c.val, c.err = create(context.WithoutCancel(ctx))
		if c.err != nil {
			f.drop(key, c)
		}
		close(c.done)
	}()
	return c.wait(ctx)
}

// Seed stores a ready value. It fails when key already has a call.
func (f *flight[K, V]) Seed(key K, val V) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.calls[key]; ok {
		return ErrDuplicateBroker
	}
	c := &call[V]{done: make(chan struct{}), val: val}
	close(c.done)
	f.calls[key] = c
	f.order = append(f.order, key)
	return nil
}

// Lookup waits for the call registered under key, if any
func (f *flight[K, V]) Lookup(ctx context.Context, key K) (V, bool, error) {
	f.mu.Lock()
	c, ok := f.calls[key]
	f.mu.Unlock()
	if !ok {
		var zero V
		return zero, false, nil
	}
	v, err := c.wait(ctx)
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Ready returns the value for key when its call has completed successfully
func (f *flight[K, V]) Ready(key K) (V, bool) {
	f.mu.Lock()
	c, ok := f.calls[key]
	f.mu.Unlock()

	var zero V
	if !ok {
		return zero, false
	}
	select {
	case <-c.done:
		if c.err != nil {
			return zero, false
		}
		return c.val, true
	default:
		return zero, false
	}
}

// CompareAndDelete removes key only while it still maps to val
func (f *flight[K, V]) CompareAndDelete(key K, val V) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.calls[key]
	if !ok {
		return false
	}
	select {
	case <-c.done:
	default:
		return false
	}
	if c.err != nil || c.val != val {
		return false
	}
	f.deleteLocked(key)
	return true
}

// Values returns the completed values in insertion order
func (f *flight[K, V]) Values() []V {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]V, 0, len(f.order))
	for _, key := range f.order {
		c := f.calls[key]
		select {
		case <-c.done:
			if c.err == nil {
				out = append(out, c.val)
			}
		default:
		}
	}
	return out
}

// Len counts registered calls, in flight or ready
func (f *flight[K, V]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *flight[K, V]) drop(key K, c *call[V]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls[key] == c {
		f.deleteLocked(key)
	}
}

func (f *flight[K, V]) deleteLocked(key K) {
	delete(f.calls, key)
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}
