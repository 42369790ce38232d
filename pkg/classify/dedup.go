package classify

import (
	"sync"
	"time"
)

// Dedup remembers recently seen fingerprints for a fixed TTL.
// Expired entries are swept lazily on each call.
type Dedup struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // fingerprint -> expiry
}

// NewDedup returns a Dedup with the given TTL. now may be nil.
func NewDedup(ttl time.Duration, now func() time.Time) *Dedup {
	if now == nil {
		now = time.Now
	}
	return &Dedup{
		ttl:  ttl,
		now:  now,
		seen: make(map[string]time.Time),
	}
}

// Seen records fp and reports whether it was already present and unexpired.
func (d *Dedup) Seen(fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[fp]; ok {
		return true
	}
	d.seen[fp] = now.Add(d.ttl)
	return false
}

// Len returns the number of live fingerprints.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Reset forgets every fingerprint.
func (d *Dedup) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]time.Time)
}
