// Package retry tracks recovery attempt counts per failing operation.
//
// The ledger is deliberately in-memory only: attempt history does not survive
// a process restart, and entries are never expired proactively. Callers clear
// entries on successful recovery or reset the whole ledger explicitly.
package retry

import (
	"sync"
	"sync/atomic"
)

// Key identifies one (operation, failure-kind) pair. Using a struct key keeps
// the ledger strongly typed instead of concatenating strings.
type Key struct {
	Operation string
	Kind      string
}

// Ledger is a concurrent attempt counter. It is backed by a sync.Map so
// unrelated recoveries contend per key, not on a single global lock.
type Ledger struct {
	counters sync.Map // Key -> *atomic.Int64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Attempts returns the current attempt count for the key, zero if unseen.
func (l *Ledger) Attempts(k Key) int {
	if v, ok := l.counters.Load(k); ok {
		return int(v.(*atomic.Int64).Load())
	}
	return 0
}

// Increment records one more attempt for the key and returns the new count.
// The entry is created on first use.
func (l *Ledger) Increment(k Key) int {
	v, _ := l.counters.LoadOrStore(k, new(atomic.Int64))
	return int(v.(*atomic.Int64).Add(1))
}

// Clear removes the entry for the key. Called on successful recovery so a
// later, independent failure for the same key starts from zero again.
func (l *Ledger) Clear(k Key) {
	l.counters.Delete(k)
}

// Reset drops every entry.
func (l *Ledger) Reset() {
	l.counters.Range(func(k, _ any) bool {
		l.counters.Delete(k)
		return true
	})
}

// Len returns the number of live entries. Intended for tests and diagnostics.
func (l *Ledger) Len() int {
	n := 0
	l.counters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
