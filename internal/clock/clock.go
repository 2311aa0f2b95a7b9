// Package clock supplies the engine's notion of "now" and caches time zones.
package clock

import (
	"fmt"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual is a settable clock for tests and replays.
type Manual struct {
	mu      sync.Mutex
	current time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{current: start}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward and returns the new time.
func (c *Manual) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// Zones resolves IANA zone names once and reuses the result.
type Zones struct {
	mu    sync.RWMutex
	cache map[string]*time.Location
}

func NewZones() *Zones {
	return &Zones{cache: make(map[string]*time.Location)}
}

func (z *Zones) Location(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("empty time zone name")
	}

	z.mu.RLock()
	loc, ok := z.cache[name]
	z.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}

	z.mu.Lock()
	z.cache[name] = loc
	z.mu.Unlock()
	return loc, nil
}
