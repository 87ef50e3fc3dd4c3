// ABOUTME: Tests for the event ID set.
// ABOUTME: Covers first sighting, redelivery, expiry, capacity eviction and concurrency.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSet(ttl time.Duration, size int) (*Set, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := New(ttl, size)
	s.now = clock.Now
	return s, clock
}

func TestSeen_FirstThenRedelivered(t *testing.T) {
	s, _ := newTestSet(time.Minute, 10)

	assert.False(t, s.Seen("$event1"))
	assert.True(t, s.Seen("$event1"))
	assert.False(t, s.Seen("$event2"))
	assert.Equal(t, 2, s.Len())
}

func TestSeen_ExpiresAfterTTL(t *testing.T) {
	s, clock := newTestSet(time.Minute, 10)

	assert.False(t, s.Seen("$event1"))
	clock.Advance(59 * time.Second)
	assert.True(t, s.Seen("$event1"))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Seen("$event1"), "expired key is new again")
}

func TestSeen_EvictsOldestAtCapacity(t *testing.T) {
	s, clock := newTestSet(time.Hour, 3)

	for i := range 3 {
		assert.False(t, s.Seen(fmt.Sprintf("k%d", i)))
		clock.Advance(time.Second)
	}
	assert.False(t, s.Seen("k3"))
	assert.Equal(t, 3, s.Len())

	assert.False(t, s.Seen("k0"), "oldest key was evicted")
	assert.True(t, s.Seen("k3"))
}

func TestSeen_Concurrent(t *testing.T) {
	s := New(time.Minute, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.Seen("shared") {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, firsts, "exactly one caller sees the key first")
}
