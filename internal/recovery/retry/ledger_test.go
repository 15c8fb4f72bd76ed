package retry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerCountsPerKey(t *testing.T) {
	l := NewLedger()
	k1 := Key{Operation: "step-1", Kind: "timeout"}
	k2 := Key{Operation: "step-1", Kind: "element_not_found"}

	assert.Equal(t, 0, l.Attempts(k1))
	assert.Equal(t, 1, l.Increment(k1))
	assert.Equal(t, 2, l.Increment(k1))

	// Same operation, different failure kind is an independent counter.
	assert.Equal(t, 0, l.Attempts(k2))
	assert.Equal(t, 1, l.Increment(k2))

	assert.Equal(t, 2, l.Attempts(k1))
	assert.Equal(t, 2, l.Len())
}

func TestLedgerClear(t *testing.T) {
	l := NewLedger()
	k := Key{Operation: "step-1", Kind: "timeout"}

	l.Increment(k)
	l.Increment(k)
	l.Clear(k)

	// A later, independent failure starts from zero again.
	assert.Equal(t, 0, l.Attempts(k))
	assert.Equal(t, 1, l.Increment(k))
}

func TestLedgerReset(t *testing.T) {
	l := NewLedger()
	l.Increment(Key{Operation: "a", Kind: "x"})
	l.Increment(Key{Operation: "b", Kind: "y"})

	l.Reset()
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, l.Attempts(Key{Operation: "a", Kind: "x"}))
}

func TestLedgerConcurrentIncrements(t *testing.T) {
	l := NewLedger()
	k := Key{Operation: "hot", Kind: "network_error"}

	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				l.Increment(k)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, l.Attempts(k))
}
