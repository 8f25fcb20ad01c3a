package util

import (
	"sync"
	"time"
)

// TimestampResolution is the precision at which layout timestamps are stored
// and compared. It matches the millisecond ISO-8601 strings clients exchange.
const TimestampResolution = time.Millisecond

// Clock hands out version timestamps for layout mutations
type Clock interface {
	// Now returns the current time at TimestampResolution
	Now() time.Time
	// After returns a timestamp strictly later than prev
	After(prev time.Time) time.Time
}

// MonotonicClock never returns the same timestamp twice within a process,
// even when the wall clock stalls or steps backwards.
type MonotonicClock struct {
	mu     sync.Mutex
	last   time.Time
	source func() time.Time
}

// NewMonotonicClock creates a MonotonicClock backed by the wall clock
func NewMonotonicClock() *MonotonicClock {
	return NewMonotonicClockWithSource(time.Now)
}

// NewMonotonicClockWithSource creates a MonotonicClock backed by source
func NewMonotonicClockWithSource(source func() time.Time) *MonotonicClock {
	return &MonotonicClock{source: source}
}

// Now returns a timestamp later than any previously returned by this clock
func (c *MonotonicClock) Now() time.Time {
	return c.After(time.Time{})
}

// After returns a timestamp later than both prev and anything this clock
// has already returned. prev may come from another process (a shared
// database row), so it is honoured even if it is ahead of the local clock.
func (c *MonotonicClock) After(prev time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := TruncateTimestamp(c.source())
	floor := c.last
	if prev.After(floor) {
		floor = TruncateTimestamp(prev)
	}
	if !now.After(floor) {
		now = floor.Add(TimestampResolution)
	}
	c.last = now
	return now
}

// TruncateTimestamp normalizes t to UTC at TimestampResolution
func TruncateTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(TimestampResolution)
}
