package pool

import "context"

// Factory opens and closes the connections a Pool manages.
// Both methods are called without the pool's lock held.
type Factory[T any] interface {
	// Create opens one connection. A failed Create leaves nothing behind.
	Create(ctx context.Context) (T, error)
	// Destroy closes one connection. The pool reclaims the slot whatever
	// Destroy returns; the error is only logged.
	Destroy(ctx context.Context, conn T) error
}

// FactoryFuncs adapts a pair of functions to the Factory interface.
// A nil DestroyFunc makes Destroy a no-op.
type FactoryFuncs[T any] struct {
	CreateFunc  func(ctx context.Context) (T, error)
	DestroyFunc func(ctx context.Context, conn T) error
}

// Create calls CreateFunc.
func (f FactoryFuncs[T]) Create(ctx context.Context) (T, error) {
	return f.CreateFunc(ctx)
}

// Destroy calls DestroyFunc.
func (f FactoryFuncs[T]) Destroy(ctx context.Context, conn T) error {
	if f.DestroyFunc == nil {
		return nil
	}
	return f.DestroyFunc(ctx, conn)
}
