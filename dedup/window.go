// Package dedup rejects bursts of transfers that look identical.
//
// A fingerprint is built from the source account and the amount only, so two
// transfers from the same account for the same amount collide even when the
// recipients differ.
package dedup

import (
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultRejectWindow is how long a fingerprint blocks a repeat attempt
	DefaultRejectWindow = 5 * time.Second

	// DefaultEvictWindow is the age after which a record may be swept
	DefaultEvictWindow = 60 * time.Second

	// DefaultSweepInterval bounds how often a full scan runs
	DefaultSweepInterval = 60 * time.Second
)

// Fingerprint derives the dedup key for a transfer attempt.
func Fingerprint(source string, amount int64) string {
	return Key(source, strconv.FormatInt(amount, 10))
}

// Key derives the dedup key from the textual source and amount, for
// attempts whose fields have not been type checked yet.
func Key(source, amount string) string {
	return source + "#" + amount
}

// Window is an in-memory, time-bounded map of fingerprint to last attempt.
// It is safe for concurrent use.
type Window struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time

	reject        time.Duration
	evict         time.Duration
	sweepInterval time.Duration
}

// Option configures a Window.
type Option func(*Window)

// WithRejectWindow sets how long a recorded fingerprint blocks repeats.
func WithRejectWindow(d time.Duration) Option {
	return func(w *Window) { w.reject = d }
}

// WithEvictWindow sets the age after which a sweep drops a record.
func WithEvictWindow(d time.Duration) Option {
	return func(w *Window) { w.evict = d }
}

// WithSweepInterval sets the minimum gap between two full sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(w *Window) { w.sweepInterval = d }
}

// New returns a Window using the default windows unless overridden.
func New(opts ...Option) *Window {
	w := &Window{
		seen:          make(map[string]time.Time),
		reject:        DefaultRejectWindow,
		evict:         DefaultEvictWindow,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ShouldReject reports whether fp was recorded at or after now-reject.
func (w *Window) ShouldReject(fp string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shouldReject(fp, now)
}

// Record sets the last attempt time of fp to now.
func (w *Window) Record(fp string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[fp] = now
}

// Sweep drops stale records and returns how many were removed. It is a no-op
// when the previous sweep ran less than the sweep interval ago.
func (w *Window) Sweep(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweep(now)
}

// Admit checks, records and sweeps in one critical section. It returns false
// when the attempt must be rejected. The timestamp is refreshed either way.
func (w *Window) Admit(fp string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	rejected := w.shouldReject(fp, now)
	w.seen[fp] = now
	w.sweep(now)
	return !rejected
}

// Len returns the number of records currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) shouldReject(fp string, now time.Time) bool {
	last, ok := w.seen[fp]
	if !ok {
		return false
	}
	return !last.Before(now.Add(-w.reject))
}

func (w *Window) sweep(now time.Time) int {
	if !w.lastSweep.IsZero() && now.Before(w.lastSweep.Add(w.sweepInterval)) {
		return 0
	}
	w.lastSweep = now

	removed := 0
	for fp, last := range w.seen {
		if now.After(last.Add(w.evict)) {
			delete(w.seen, fp)
			removed++
		}
	}
	return removed
}
