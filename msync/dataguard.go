package msync

import "sync"

// DataGuard wraps a value with a read/write mutex. Callers only see the
// value inside callbacks, so every access holds the lock.
type DataGuard[T any] struct {
	mutex sync.RWMutex
	value T
}

func NewDataGuard[T any](val T) *DataGuard[T] {
	return &DataGuard[T]{value: val}
}

// Load passes the value to cb under the read lock.
func (l *DataGuard[T]) Load(cb func(T)) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	cb(l.value)
}

// Store replaces the value with cb’s return under the write lock.
func (l *DataGuard[T]) Store(cb func(T) T) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.value = cb(l.value)
}
