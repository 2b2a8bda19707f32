package common

import "sync"

// KeyedMutex provides mutual exclusion per string key. It serializes sync
// passes per institution link and balance replays per account; unrelated
// keys proceed in parallel.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty lock set.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until the key becomes available.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	l := k.entry(key)
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

// TryLock acquires the key without blocking. It reports whether the lock
// was taken.
func (k *KeyedMutex) TryLock(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	l := k.entry(key)
	if !l.mu.TryLock() {
		return false
	}
	l.refs++
	return true
}

// Unlock releases the key. Unlocking a key that is not held panics, as with
// sync.Mutex.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("common: unlock of unheld key " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}

func (k *KeyedMutex) entry(key string) *keyLock {
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	return l
}
