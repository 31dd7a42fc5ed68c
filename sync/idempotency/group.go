// Package idempotency suppresses duplicate calls that share a key.
// Unlike singleflight, a successful result is remembered until the
// key is explicitly forgotten, so a retried request with the same
// client token observes the original outcome.
package idempotency

import "sync"

type call[T any] struct {
	wg  sync.WaitGroup
	val T
	err error
}

// Group is a namespace of keyed calls returning T.
// The zero value is ready to use.
type Group[T any] struct {
	mu sync.Mutex // protects m
	m  map[string]*call[T]
}

// Once runs fn unless a call with the same key is in flight or has
// already succeeded, in which case it returns that call's result.
// A failed call is not remembered.
func (g *Group[T]) Once(key string, fn func() (T, error)) (T, error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call[T])
	}
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}
	c := new(call[T])
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	if c.err != nil {
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
	}
	c.wg.Done()
	return c.val, c.err
}

// Forget lets the next Once call for key run its function.
func (g *Group[T]) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
