// Package syncx provides in-process locking helpers.
package syncx

import (
	"sort"
	"sync"
)

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex hands out one mutex per key. Entries are dropped once nobody
// holds or waits for them.
type KeyedMutex struct {
	mu   sync.Mutex // protects the map
	keys map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyedEntry)}
}

func (m *KeyedMutex) acquire(key string) *keyedEntry {
	m.mu.Lock()
	e := m.keys[key]
	if e == nil {
		e = &keyedEntry{}
		m.keys[key] = e
	}
	e.refs++
	m.mu.Unlock()
	return e
}

func (m *KeyedMutex) release(key string, e *keyedEntry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.keys, key)
	}
	m.mu.Unlock()
}

// Lock blocks until key is free.
func (m *KeyedMutex) Lock(key string) {
	e := m.acquire(key)
	// don't lock inside m.mu else we can deadlock
	e.mu.Lock()
}

// TryLock locks key only if it is free right now.
func (m *KeyedMutex) TryLock(key string) bool {
	e := m.acquire(key)
	if e.mu.TryLock() {
		return true
	}
	m.release(key, e)
	return false
}

func (m *KeyedMutex) Unlock(key string) {
	m.mu.Lock()
	e := m.keys[key]
	m.mu.Unlock()
	if e == nil {
		panic("syncx: Unlock of unlocked key " + key)
	}
	e.mu.Unlock()
	m.release(key, e)
}

// LockAll locks every distinct key in sorted order and returns a function
// that unlocks them. Sorting keeps two overlapping callers from deadlocking.
func (m *KeyedMutex) LockAll(keys ...string) (unlock func()) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	for _, k := range uniq {
		m.Lock(k)
	}
	return func() {
		for i := len(uniq) - 1; i >= 0; i-- {
			m.Unlock(uniq[i])
		}
	}
}

// Len reports how many keys are currently tracked.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
