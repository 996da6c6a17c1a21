// Package keymutex provides named mutual exclusion: one mutex per key,
// created on first use. The scheduler serializes mutations per workspace
// and the time tracker per user with it.
package keymutex

import "sync"

// KeyMutex hands out one mutex per key.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty KeyMutex.
func New() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
}

// Unlock releases the mutex for key. Unlocking a key that was never locked
// panics, matching sync.Mutex semantics.
func (k *KeyMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		panic("keymutex: unlock of unheld key " + key)
	}
	m.Unlock()
}
