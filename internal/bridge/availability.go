package bridge

import "sync"

type availability int

const (
	availabilityUnknown availability = iota
	availabilityYes
	availabilityNo
)

type probeResult struct {
	ok      bool
	version string
	reason  string
	// retry leaves the cache unknown, for failures caused by the caller
	// giving up rather than by the tool.
	retry bool
}

// AvailabilityCache memoises a tool probe. The zero value is ready to use and
// starts in the unknown state.
type AvailabilityCache struct {
	mu      sync.Mutex
	state   availability
	version string
	reason  string
}

// Get returns the cached answer, running probe until one settles it.
// Concurrent callers block until the running probe finishes.
func (c *AvailabilityCache) Get(probe func() probeResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == availabilityUnknown {
		r := probe()
		c.version = r.version
		c.reason = r.reason
		if r.retry {
			return false
		}
		if r.ok {
			c.state = availabilityYes
		} else {
			c.state = availabilityNo
		}
	}
	return c.state == availabilityYes
}

// Set injects an answer, bypassing the probe.
func (c *AvailabilityCache) Set(ok bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.state = availabilityYes
	} else {
		c.state = availabilityNo
	}
	c.reason = reason
}

// Reset forgets the cached answer.
func (c *AvailabilityCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = availabilityUnknown
	c.version = ""
	c.reason = ""
}

func (c *AvailabilityCache) Details() (version, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, c.reason
}
