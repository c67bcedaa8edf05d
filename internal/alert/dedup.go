package alert

import (
	"sync"
	"time"
)

const (
	defaultWindow     = 10 * time.Second
	defaultMaxEntries = 128
)

// Dedup suppresses repeated identical error presentations within a time
// window. It is explicitly owned by whoever presents errors; there is no
// package-level instance.
type Dedup struct {
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu        sync.Mutex
	lastShown map[string]time.Time
}

func NewDedup(window time.Duration, maxEntries int) *Dedup {
	if window <= 0 {
		window = defaultWindow
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Dedup{
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
		lastShown:  make(map[string]time.Time),
	}
}

// Allow reports whether the keyed error should be shown now, recording the
// attempt. The same key is allowed again once the window has elapsed.
func (d *Dedup) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastShown[key]; ok && now.Sub(last) < d.window {
		return false
	}

	d.sweepLocked(now)
	d.lastShown[key] = now
	return true
}

// sweepLocked drops expired entries first, then evicts oldest entries if the
// cache is still at capacity.
func (d *Dedup) sweepLocked(now time.Time) {
	for key, last := range d.lastShown {
		if now.Sub(last) >= d.window {
			delete(d.lastShown, key)
		}
	}
	for len(d.lastShown) >= d.maxEntries {
		var oldestKey string
		var oldest time.Time
		first := true
		for key, last := range d.lastShown {
			if first || last.Before(oldest) {
				oldestKey, oldest = key, last
				first = false
			}
		}
		delete(d.lastShown, oldestKey)
	}
}

// Len reports the current number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lastShown)
}
