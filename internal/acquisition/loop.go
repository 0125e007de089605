// Package acquisition polls both scales at a fixed cadence, feeds the
// stability tracker and publishes the latest readings.
package acquisition

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/weighstation/internal/logger"
	"github.com/rewired-gh/weighstation/internal/models"
	"github.com/rewired-gh/weighstation/internal/scale"
	"github.com/rewired-gh/weighstation/internal/stability"
	"github.com/shopspring/decimal"
)

const maxConnectBackoff = 30 * time.Second

// Link is the subset of scale.Link the loop drives.
type Link interface {
	Connect(ctx context.Context) (scale.Status, error)
	ReadWeight(ctx context.Context, scaleID int) (decimal.Decimal, error)
	Connected(scaleID int) bool
	Close() error
}

// ConnectivityObserver is told when the PLC link drops and comes back.
type ConnectivityObserver interface {
	LinkLost(err error)
	LinkRestored(failedAttempts int)
}

// State is the loop lifecycle state.
type State int32

const (
	Idle State = iota
	Connected
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connected:
		return "connected"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Snapshot is one published tick.
type Snapshot struct {
	Scale1 models.ScaleReading
	Scale2 models.ScaleReading
	At     time.Time
}

// Reading returns the reading for scaleID.
func (s Snapshot) Reading(scaleID int) models.ScaleReading {
	if scaleID == models.Scale2 {
		return s.Scale2
	}
	return s.Scale1
}

func (s *Snapshot) set(r models.ScaleReading) {
	if r.ScaleID == models.Scale2 {
		s.Scale2 = r
	} else {
		s.Scale1 = r
	}
}

// Config controls cadence and failure handling.
type Config struct {
	PollInterval   time.Duration
	ErrorBackoff   time.Duration
	ReconnectAfter int // consecutive ticks with no successful read
}

// DefaultConfig returns a 500ms cadence with a 1s backoff.
func DefaultConfig() Config {
	return Config{
		PollInterval:   500 * time.Millisecond,
		ErrorBackoff:   time.Second,
		ReconnectAfter: 5,
	}
}

// Loop is the single acquisition goroutine of the process.
type Loop struct {
	link     Link
	tracker  *stability.Tracker
	config   Config
	observer ConnectivityObserver
	now      func() time.Time

	state   atomic.Int32
	latest  atomic.Pointer[Snapshot]
	updates chan Snapshot
	running atomic.Bool

	// outage counts failed connect attempts since the link was last healthy.
	outage int
}

// Option configures a Loop.
type Option func(*Loop)

// WithObserver registers a connectivity observer.
func WithObserver(o ConnectivityObserver) Option {
	return func(l *Loop) {
		l.observer = o
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// New creates an idle Loop.
func New(link Link, tracker *stability.Tracker, config Config, opts ...Option) *Loop {
	d := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = d.PollInterval
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = d.ErrorBackoff
	}
	if config.ReconnectAfter <= 0 {
		config.ReconnectAfter = d.ReconnectAfter
	}
	l := &Loop{
		link:    link,
		tracker: tracker,
		config:  config,
		now:     time.Now,
		updates: make(chan Snapshot, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Latest returns the most recent snapshot without blocking.
func (l *Loop) Latest() Snapshot {
	if s := l.latest.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// Updates delivers snapshots. Slow readers only ever see the newest one.
func (l *Loop) Updates() <-chan Snapshot {
	return l.updates
}

// ClearHistory drops the stability windows.
func (l *Loop) ClearHistory() {
	l.tracker.Clear()
}

// Run connects and polls until ctx is cancelled. It may only run once at a
// time; a concurrent call returns immediately.
func (l *Loop) Run(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		logger.Warn("Acquisition loop already running")
		return
	}
	defer l.running.Store(false)
	defer l.setState(Stopped)

	l.setState(Idle)
	if !l.connect(ctx) {
		logger.Info("Acquisition stopped before connecting")
		return
	}

	logger.Info("Starting acquisition (interval: %v, backoff: %v, reconnect_after: %d)",
		l.config.PollInterval, l.config.ErrorBackoff, l.config.ReconnectAfter)

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	l.setState(Polling)
	failures := 0

	handleTick := func() bool {
		healthy, err := l.safeTick(ctx)
		if ctx.Err() != nil {
			return false
		}
		if healthy {
			failures = 0
			return true
		}
		failures++
		if err == nil && failures < l.config.ReconnectAfter {
			return true
		}
		if err == nil {
			err = fmt.Errorf("no scale answered for %d consecutive polls", failures)
		}
		logger.Error("Acquisition loop error: %v", err)
		if !l.reconnect(ctx, err) {
			return false
		}
		failures = 0
		ticker.Reset(l.config.PollInterval)
		l.setState(Polling)
		return true
	}

	if !handleTick() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("Acquisition stopped")
			return
		case <-ticker.C:
			if !handleTick() {
				logger.Info("Acquisition stopped")
				return
			}
		}
	}
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// connect retries with exponential backoff until the link opens or ctx ends.
func (l *Loop) connect(ctx context.Context) bool {
	delay := l.config.ErrorBackoff
	for {
		status, err := l.link.Connect(ctx)
		if err == nil {
			l.setState(Connected)
			if l.outage > 0 && l.observer != nil {
				l.observer.LinkRestored(l.outage)
			}
			l.outage = 0
			logger.Info("PLC link up (scale1=%t, scale2=%t)", status.Scale1, status.Scale2)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		l.outage++
		logger.Warn("PLC connect attempt %d failed: %v (retrying in %v)", l.outage, err, delay)
		if l.outage == 1 && l.observer != nil {
			l.observer.LinkLost(err)
		}
		if !sleep(ctx, delay) {
			return false
		}
		delay *= 2
		if delay > maxConnectBackoff {
			delay = maxConnectBackoff
		}
	}
}

// reconnect waits the backoff, drops the link and connects again.
func (l *Loop) reconnect(ctx context.Context, cause error) bool {
	l.setState(Idle)
	if l.observer != nil {
		l.observer.LinkLost(cause)
	}
	// LinkRestored fires once the reconnect succeeds.
	l.outage = 1

	if !sleep(ctx, l.config.ErrorBackoff) {
		return false
	}
	if err := l.link.Close(); err != nil {
		logger.Warn("Failed to close PLC link: %v", err)
	}
	return l.connect(ctx)
}

func (l *Loop) safeTick(ctx context.Context) (healthy bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			healthy = false
			err = fmt.Errorf("panic in acquisition tick: %v", r)
		}
	}()
	return l.tick(ctx), nil
}

// tick reads every available scale once and publishes the result. It reports
// whether at least one read succeeded. A cancelled tick publishes nothing.
func (l *Loop) tick(ctx context.Context) bool {
	now := l.now()
	snap := Snapshot{At: now}
	healthy := false

	for _, id := range []int{models.Scale1, models.Scale2} {
		if ctx.Err() != nil {
			return false
		}
		r := models.ScaleReading{ScaleID: id, WeightKg: decimal.Zero, Timestamp: now}
		if l.link.Connected(id) {
			w, err := l.link.ReadWeight(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				logger.Warn("Scale %d read failed: %v", id, err)
			} else {
				l.tracker.Update(id, w)
				r.WeightKg = w
				r.Available = true
				r.Stable = l.tracker.IsStableDefault(id)
				healthy = true
			}
		}
		snap.set(r)
	}

	l.publish(snap)
	return healthy
}

func (l *Loop) publish(snap Snapshot) {
	l.latest.Store(&snap)
	select {
	case l.updates <- snap:
		return
	default:
	}
	select {
	case <-l.updates:
	default:
	}
	select {
	case l.updates <- snap:
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
