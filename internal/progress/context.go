// Package progress holds the state shared between a running batch and
// whatever is watching it.
package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Context is the progress and cancellation handle for one batch run. The
// batch worker is the only writer of the counters; any goroutine may read
// them, request cancellation, or record an error.
type Context struct {
	total     atomic.Int64
	completed atomic.Int64
	bytes     atomic.Int64
	cancelled atomic.Bool
	start     time.Time

	mu        sync.Mutex
	label     string
	lastError string
}

// Snapshot is a point-in-time copy of a Context.
type Snapshot struct {
	Total     int
	Completed int
	Bytes     int64
	Label     string
	LastError string
	Cancelled bool
	StartTime time.Time
	Elapsed   time.Duration
}

// New creates a Context for a batch of total items.
func New(total int) *Context {
	c := &Context{start: time.Now()}
	c.total.Store(int64(total))
	return c
}

// SetTotal replaces the expected item count.
func (c *Context) SetTotal(total int) {
	c.total.Store(int64(total))
}

// Advance marks one more item as handled.
func (c *Context) Advance(label string, bytes int64) {
	c.completed.Add(1)
	c.bytes.Add(bytes)

	c.mu.Lock()
	c.label = label
	c.mu.Unlock()
}

// SetLabel records what the worker is doing right now.
func (c *Context) SetLabel(label string) {
	c.mu.Lock()
	c.label = label
	c.mu.Unlock()
}

// Cancel asks the batch to stop before its next item.
func (c *Context) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (c *Context) Cancelled() bool {
	return c.cancelled.Load()
}

// SetLastError stores the most recent user-facing failure message.
func (c *Context) SetLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

// Snapshot returns the current state.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	label, lastErr := c.label, c.lastError
	c.mu.Unlock()

	return Snapshot{
		Total:     int(c.total.Load()),
		Completed: int(c.completed.Load()),
		Bytes:     c.bytes.Load(),
		Label:     label,
		LastError: lastErr,
		Cancelled: c.cancelled.Load(),
		StartTime: c.start,
		Elapsed:   time.Since(c.start),
	}
}

// Percent returns completion in the range [0, 100].
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	p := float64(s.Completed) / float64(s.Total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Rate returns the average throughput in bytes per second.
func (s Snapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Elapsed.Seconds()
}

// ETA estimates the remaining time from the average time per item.
func (s Snapshot) ETA() time.Duration {
	if s.Completed == 0 || s.Completed >= s.Total {
		return 0
	}
	per := s.Elapsed / time.Duration(s.Completed)
	return per * time.Duration(s.Total-s.Completed)
}
