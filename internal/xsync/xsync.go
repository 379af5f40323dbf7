// Package xsync carries the closure-scoped locking helpers the
// dispatch core leans on: a critical section is a function, so no
// early return can leak a held lock.
package xsync

import (
	"sync"
)

// Mutex adds closure-scoped locking to sync.Mutex.
type Mutex struct {
	sync.Mutex
}

// WithLock runs f while holding the lock.
func (m *Mutex) WithLock(f func()) {
	m.Lock()
	defer m.Unlock()

	f()
}

// RWMutex adds closure-scoped locking to sync.RWMutex.
type RWMutex struct {
	sync.RWMutex
}

// WithLock runs f while holding the write lock.
func (m *RWMutex) WithLock(f func()) {
	m.Lock()
	defer m.Unlock()

	f()
}

// WithRLock runs f while holding the read lock.
func (m *RWMutex) WithRLock(f func()) {
	m.RLock()
	defer m.RUnlock()

	f()
}

// Locked evaluates f under mu and returns its result. Used where a
// guarded field is read out of a hot path without naming a temporary.
func Locked[T any](mu *Mutex, f func() T) T {
	mu.Lock()
	defer mu.Unlock()

	return f()
}

// RLocked evaluates f under mu's read lock and returns its result.
func RLocked[T any](mu *RWMutex, f func() T) T {
	mu.RLock()
	defer mu.RUnlock()

	return f()
}
