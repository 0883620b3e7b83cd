// Package lock provides an in-process lock registry keyed by account id.
// It serializes same-account critical sections within one process; the
// FOR UPDATE row locks taken inside repository transactions extend the same
// guarantee across processes.
package lock

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Registry hands out one mutex per key, created on first use and dropped
// once no goroutine references it, so the map does not grow with the
// account population.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*entry)}
}

// WithLock runs fn while holding the lock for key. Acquisition respects ctx
// cancellation; the lock is released on every exit path, including panics.
func (r *Registry) WithLock(ctx context.Context, key string, fn func() error) error {
	e := r.retain(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.release(key, e)
		return ctx.Err()
	}

	defer func() {
		<-e.sem
		r.release(key, e)
	}()
	return fn()
}

func (r *Registry) retain(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.locks[key] = e
	}
	e.refs++
	return e
}

func (r *Registry) release(key string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.locks, key)
	}
}
