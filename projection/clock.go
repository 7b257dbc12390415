package projection

import "sync/atomic"

// ArrivalClock is a monotonic logical clock stamping changes in the order
// they reach this process. Arrival order is the only order the feed
// guarantees, so it is the one merges are decided on.
type ArrivalClock struct {
	seq atomic.Uint64
}

// Next returns the next sequence number and increments the clock.
func (c *ArrivalClock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *ArrivalClock) Current() uint64 {
	return c.seq.Load()
}
