package msync

import "sync/atomic"

// TypedAtomic is a type-safe atomic.Value. Unlike atomic.Pointer it holds
// the value itself, so constants can be stored directly and an unset
// TypedAtomic loads as the type’s zero value.
type TypedAtomic[T any] struct {
	v atomic.Value
}

func NewTypedAtomic[T any](val T) *TypedAtomic[T] {
	ta := &TypedAtomic[T]{}
	ta.v.Store(val)
	return ta
}

func (ta *TypedAtomic[T]) Load() T {
	return orZero[T](ta.v.Load())
}

func (ta *TypedAtomic[T]) Store(val T) {
	ta.v.Store(val)
}

// CompareAndSwap stores newVal only if the current value equals oldVal.
// T must be comparable at runtime.
func (ta *TypedAtomic[T]) CompareAndSwap(oldVal, newVal T) bool {
	return ta.v.CompareAndSwap(oldVal, newVal)
}

func orZero[T any](val any) T {
	if val == nil {
		return *new(T)
	}

	return val.(T)
}
