// Package stability decides whether a scale has settled by keeping a short
// window of recent readings per scale.
package stability

import (
	"sync"

	"github.com/shopspring/decimal"
)

const (
	DefaultCapacity   = 5
	DefaultMinSamples = 3
)

// DefaultTolerance is the max-min spread, in kg, below which a window is stable.
var DefaultTolerance = decimal.RequireFromString("0.005")

// window is a fixed-capacity ring buffer of readings.
type window struct {
	buf []decimal.Decimal
	idx int
}

func (w *window) push(v decimal.Decimal, capacity int) {
	if len(w.buf) < capacity {
		w.buf = append(w.buf, v)
	} else {
		w.buf[w.idx] = v
	}
	w.idx = (w.idx + 1) % capacity
}

// ordered returns the readings oldest first.
func (w *window) ordered() []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(w.buf))
	start := 0
	if len(w.buf) == cap(w.buf) {
		start = w.idx
	}
	out = append(out, w.buf[start:]...)
	return append(out, w.buf[:start]...)
}

// Tracker keeps a bounded window per scale. It is safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	windows    map[int]*window
	capacity   int
	minSamples int
	tolerance  decimal.Decimal
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCapacity sets the window length.
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithMinSamples sets how many readings a window needs before it can be stable.
func WithMinSamples(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.minSamples = n
		}
	}
}

// WithTolerance sets the tolerance used by IsStableDefault.
func WithTolerance(tol decimal.Decimal) Option {
	return func(t *Tracker) {
		t.tolerance = tol
	}
}

// New creates a Tracker with capacity 5, 3 minimum samples and 0.005 kg tolerance
// unless overridden.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		windows:    make(map[int]*window),
		capacity:   DefaultCapacity,
		minSamples: DefaultMinSamples,
		tolerance:  DefaultTolerance,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.minSamples > t.capacity {
		t.minSamples = t.capacity
	}
	return t
}

// Update appends a reading, evicting the oldest beyond capacity.
func (t *Tracker) Update(scaleID int, weight decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[scaleID]
	if !ok {
		w = &window{buf: make([]decimal.Decimal, 0, t.capacity)}
		t.windows[scaleID] = w
	}
	w.push(weight, t.capacity)
}

// IsStable reports whether the scale's window holds at least the minimum
// number of samples and its spread is within tolerance.
func (t *Tracker) IsStable(scaleID int, tolerance decimal.Decimal) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[scaleID]
	if !ok || len(w.buf) < t.minSamples {
		return false
	}
	lo, hi := w.buf[0], w.buf[0]
	for _, v := range w.buf[1:] {
		lo = decimal.Min(lo, v)
		hi = decimal.Max(hi, v)
	}
	return hi.Sub(lo).LessThanOrEqual(tolerance)
}

// IsStableDefault is IsStable with the tracker's configured tolerance.
func (t *Tracker) IsStableDefault(scaleID int) bool {
	return t.IsStable(scaleID, t.tolerance)
}

// History returns a copy of the window, oldest first.
func (t *Tracker) History(scaleID int) []decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[scaleID]
	if !ok {
		return nil
	}
	return w.ordered()
}

// Clear drops every window.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.windows = make(map[int]*window)
	t.mu.Unlock()
}
