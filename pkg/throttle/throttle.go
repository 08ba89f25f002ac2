// Package throttle suppresses repeat recommendations of the same place for
// the same category within a cooldown window.
package throttle

import (
	"fmt"
	"sync"
	"time"
)

// DefaultWindow is the minimum time between two notifications for the same
// place in the same category.
const DefaultWindow = 2 * time.Minute

// Key identifies a recommendation. Place names are compared verbatim;
// coordinates deliberately take no part in identity.
type Key struct {
	Category string
	Place    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s", k.Category, k.Place)
}

// Cooldown remembers when each key was last shown.
// The engine serialises calls; the mutex only keeps the map consistent.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[Key]time.Time
}

// New returns a Cooldown with the given window (DefaultWindow if <= 0).
func New(window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cooldown{window: window, last: make(map[Key]time.Time)}
}

// Window returns the configured cooldown.
func (c *Cooldown) Window() time.Duration {
	return c.window
}

// ShouldNotify reports whether key may be shown at now and, if so, records
// now as its last-shown time.
func (c *Cooldown) ShouldNotify(key Key, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[key] = now
	c.pruneLocked(now)
	return true
}

// LastShown returns when key was last let through.
func (c *Cooldown) LastShown(key Key) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[key]
	return t, ok
}

// Reset forgets every key.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[Key]time.Time)
}

// Len returns the number of remembered keys.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}

// pruneLocked drops entries whose window has passed. Must hold c.mu.
func (c *Cooldown) pruneLocked(now time.Time) {
	for k, t := range c.last {
		if now.Sub(t) >= c.window {
			delete(c.last, k)
		}
	}
}
