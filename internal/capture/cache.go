package capture

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes the most recent frame for a short validity window so that
// several detections in one cycle share a single screen grab. Concurrent
// callers that miss the cache wait on one capture.
type Cache struct {
	capturer Capturer
	now      func() time.Time

	mu       sync.RWMutex
	validity time.Duration
	current  *Frame

	group singleflight.Group
	grabs uint64
}

// NewCache wraps capturer. validity should stay well below one second.
func NewCache(capturer Capturer, validity time.Duration) *Cache {
	return &Cache{
		capturer: capturer,
		validity: validity,
		now:      time.Now,
	}
}

// SetClock overrides the time source. It is intended for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// SetValidity changes the validity window for subsequent calls.
func (c *Cache) SetValidity(d time.Duration) {
	c.mu.Lock()
	c.validity = d
	c.mu.Unlock()
}

// Capture returns the cached frame while it is younger than the validity
// window, and a fresh one otherwise.
func (c *Cache) Capture(ctx context.Context) (*Frame, error) {
	if f := c.fresh(); f != nil {
		return f, nil
	}

	v, err, _ := c.group.Do("frame", func() (interface{}, error) {
		if f := c.fresh(); f != nil {
			return f, nil
		}
		img, err := c.capturer.Capture(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		f := &Frame{Image: img, CapturedAt: c.now(), Source: c.capturer.Name()}
		c.current = f
		c.grabs++
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Frame), nil
}

func (c *Cache) fresh() *Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current != nil && c.current.Age(c.now()) < c.validity {
		return c.current
	}
	return nil
}

// Latest returns the last captured frame regardless of age, or nil.
func (c *Cache) Latest() *Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Invalidate drops the cached frame.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// Grabs returns the number of captures performed by the underlying capturer.
func (c *Cache) Grabs() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.grabs
}
