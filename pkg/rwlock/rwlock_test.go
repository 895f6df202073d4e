package rwlock

import (
	"testing"
	"time"
)

func TestReadersShareTheLock(t *testing.T) {
	l := New()
	l.RLock()
	l.RLock()
	l.RUnlock()
	l.RUnlock()

	// With all readers gone a writer proceeds.
	l.Lock()
	l.Unlock()
}

func TestWriterWaitsForReaders(t *testing.T) {
	l := New()
	l.RLock()

	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
		l.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired the lock while a reader held it")
	case <-time.After(50 * time.Millisecond):
	}

	l.RUnlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired the lock after readers drained")
	}
}

func TestNewReaderJoinsWhileWriterWaits(t *testing.T) {
	l := New()
	l.RLock()

	go func() {
		l.Lock()
		l.Unlock()
	}()
	time.Sleep(20 * time.Millisecond)

	// Reader preference: a second reader enters even though a writer is
	// queued.
	done := make(chan struct{})
	go func() {
		l.RLock()
		l.RUnlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked behind a waiting writer")
	}

	l.RUnlock()
}
