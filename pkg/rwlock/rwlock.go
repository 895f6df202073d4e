// Package rwlock provides the reader-preference read-write lock used by the
// catalog's product table and the frontend's response cache.
//
// Readers share the lock: the first reader in acquires the writer mutex and
// the last reader out releases it. Writers take the writer mutex directly.
// This is reader-preference by construction — a steady stream of readers can
// starve a writer, which is acceptable at this system's write rate.
package rwlock

import "sync"

type Lock struct {
	writer  sync.Mutex
	guard   sync.Mutex
	readers int
}

func New() *Lock {
	return &Lock{}
}

// RLock acquires the lock for reading. Any number of readers may hold it
// concurrently.
func (l *Lock) RLock() {
	l.guard.Lock()
	l.readers++
	if l.readers == 1 {
		l.writer.Lock()
	}
	l.guard.Unlock()
}

// RUnlock releases a read hold.
func (l *Lock) RUnlock() {
	l.guard.Lock()
	l.readers--
	if l.readers == 0 {
		l.writer.Unlock()
	}
	l.guard.Unlock()
}

// Lock acquires the lock for writing. Blocks until all readers have drained.
func (l *Lock) Lock() {
	l.writer.Lock()
}

// Unlock releases a write hold.
func (l *Lock) Unlock() {
	l.writer.Unlock()
}
