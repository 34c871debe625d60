package mailsync

import (
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km keyedMutex
	unlock := km.Lock("u/a/INBOX")

	acquired := make(chan struct{})
	go func() {
		second := km.Lock("u/a/INBOX")
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while the first still held it")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock after release")
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	var km keyedMutex
	unlockA := km.Lock("u/a/INBOX")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlockB := km.Lock("u/b/INBOX")
		close(acquired)
		unlockB()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("different key blocked behind an unrelated lock")
	}
}

func TestKeyedMutexDropsIdleEntries(t *testing.T) {
	var km keyedMutex
	unlock := km.Lock("u/a/INBOX")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	if len(km.locks) != 0 {
		t.Errorf("lock table holds %d entries after release, want 0", len(km.locks))
	}
}
