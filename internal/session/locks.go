// ABOUTME: Keyed per-conversation mutexes serializing lifecycle transitions
// ABOUTME: Lock-then-reread is the controller's critical section discipline

package session

import "sync"

// lockTable hands out one mutex per conversation ID so transitions on the
// same conversation serialize while different conversations proceed freely.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*entry)}
}

// lock acquires the mutex for the given key and returns its release func.
// Entries are reference-counted and removed when the last holder releases,
// so the table stays bounded by in-flight conversations.
func (t *lockTable) lock(key string) func() {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
