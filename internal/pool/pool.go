// Package pool wraps sync.Pool with a typed interface. The transports
// use it to recycle per-tick scratch buffers between datagram reads
// instead of allocating one per read.
package pool

import "sync"

// Pool hands out values of one type, constructing a fresh one when the
// pool is empty.
type Pool[T any] struct {
	p     sync.Pool
	reset func(T) T
}

// New builds a Pool whose empty-pool constructor is newFn.
func New[T any](newFn func() T) *Pool[T] {
	return &Pool[T]{
		p: sync.Pool{New: func() any { return newFn() }},
	}
}

// NewWithReset builds a Pool that passes every value through reset on
// its way back in, so Get never observes stale state.
func NewWithReset[T any](newFn func() T, reset func(T) T) *Pool[T] {
	pl := New(newFn)
	pl.reset = reset
	return pl
}

// Get takes a value out of the pool, constructing one if none is free.
func (p *Pool[T]) Get() T {
	return p.p.Get().(T)
}

// Put returns a value for reuse.
func (p *Pool[T]) Put(v T) {
	if p.reset != nil {
		v = p.reset(v)
	}
	p.p.Put(v)
}
