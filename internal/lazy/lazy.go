// Package lazy provides memoised, on-demand evaluation of pipeline stages.
// A stage is declared up front and runs the first time something asks for
// its result; later callers get the same value or error.
package lazy

import (
	"context"
	"sync"
	"sync/atomic"
)

// Value is a deferred computation of T.
type Value[T any] struct {
	fn   func(ctx context.Context) (T, error)
	once sync.Once
	done atomic.Bool
	val  T
	err  error
}

// New declares a deferred computation. fn does not run until Get.
func New[T any](fn func(ctx context.Context) (T, error)) *Value[T] {
	return &Value[T]{fn: fn}
}

// Ready wraps an already computed value.
func Ready[T any](v T) *Value[T] {
	l := &Value[T]{val: v}
	l.done.Store(true)
	l.once.Do(func() {})
	return l
}

// Get evaluates the computation on first use with ctx and returns the
// memoised result afterwards.
func (l *Value[T]) Get(ctx context.Context) (T, error) {
	l.once.Do(func() {
		l.val, l.err = l.fn(ctx)
		l.done.Store(true)
	})
	return l.val, l.err
}

// Evaluated reports whether Get has run.
func (l *Value[T]) Evaluated() bool {
	return l.done.Load()
}

// Map derives a deferred value from another without forcing it.
func Map[T, U any](src *Value[T], fn func(ctx context.Context, v T) (U, error)) *Value[U] {
	return New(func(ctx context.Context) (U, error) {
		v, err := src.Get(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(ctx, v)
	})
}
