package p2p

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupFirstOccurrenceAlwaysRelayed(t *testing.T) {
	d := NewDedup()
	fp := Fingerprint([]byte("hello"))
	assert.False(t, d.Seen(fp), "first sighting must not be reported as seen")
}

func TestDedupSubsequentOccurrencesNeverRelayed(t *testing.T) {
	d := NewDedup()
	fp := Fingerprint([]byte("hello"))
	require_ := assert.New(t)
	require_.False(d.Seen(fp))
	for i := 0; i < 10; i++ {
		require_.True(d.Seen(fp), "repeat sighting must always be reported as seen")
	}
}

func TestDedupMemoryStaysBounded(t *testing.T) {
	d := NewDedup()
	for i := 0; i < defaultDedupCapacity*4; i++ {
		d.Seen(Fingerprint([]byte(fmt.Sprintf("msg-%d", i))))
	}
	assert.LessOrEqual(t, d.Len(), defaultDedupCapacity)
}

func TestDedupEvictsOldestOnOverflow(t *testing.T) {
	d := NewDedup()
	first := Fingerprint([]byte("the-very-first-message"))
	d.Seen(first)

	for i := 0; i < defaultDedupCapacity; i++ {
		d.Seen(Fingerprint([]byte(fmt.Sprintf("filler-%d", i))))
	}

	assert.False(t, d.Seen(first), "evicted fingerprint must be relayable again")
}

func TestDedupWithCapacityHonorsConfiguredBound(t *testing.T) {
	d := NewDedupWithCapacity(8)
	for i := 0; i < 32; i++ {
		d.Seen(Fingerprint([]byte(fmt.Sprintf("cap-msg-%d", i))))
	}
	assert.LessOrEqual(t, d.Len(), 8)
}

func TestDedupConcurrentSeenOnlyAdmitsOneFirstSighting(t *testing.T) {
	d := NewDedup()
	fp := Fingerprint([]byte("racer"))

	const n = 64
	var wg sync.WaitGroup
	results := make([]bool, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = d.Seen(fp)
		}(i)
	}
	wg.Wait()

	firstSightings := 0
	for _, seen := range results {
		if !seen {
			firstSightings++
		}
	}
	assert.Equal(t, 1, firstSightings, "exactly one goroutine must observe the first sighting")
}
