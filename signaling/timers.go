package signaling

import (
	"sync"
	"time"
)

// timerSet keeps at most one pending callback per key. Arming a key
// that already has a timer reschedules it, so only the last-armed
// timer ever fires. Generations are globally monotonic to keep a
// stopped-but-already-firing timer from sneaking past a re-arm.
type timerSet struct {
	mu      sync.Mutex
	nextGen uint64
	entries map[string]*timerEntry
}

type timerEntry struct {
	gen   uint64
	timer *time.Timer
}

// Arm schedules fn to run after d, replacing any pending timer for the
// key. fn runs outside the set's lock.
func (t *timerSet) Arm(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries == nil {
		t.entries = make(map[string]*timerEntry)
	}
	if old, ok := t.entries[key]; ok {
		old.timer.Stop()
	}

	t.nextGen++
	gen := t.nextGen
	entry := &timerEntry{gen: gen}
	entry.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		current, ok := t.entries[key]
		if !ok || current.gen != gen {
			t.mu.Unlock()
			return
		}
		delete(t.entries, key)
		t.mu.Unlock()
		fn()
	})
	t.entries[key] = entry
}

// Cancel drops the pending timer for the key, reporting whether one
// existed.
func (t *timerSet) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

// CancelAll drops every pending timer.
func (t *timerSet) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, key)
	}
}

// Pending reports whether the key has an armed timer.
func (t *timerSet) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}
