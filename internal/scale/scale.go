// Package scale talks to the PLC that fronts both scales over Modbus TCP.
package scale

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rewired-gh/weighstation/internal/logger"
	"github.com/rewired-gh/weighstation/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotConnected     = errors.New("scale link not connected")
	ErrScaleUnavailable = errors.New("scale unavailable")
	ErrInvalidScale     = errors.New("invalid scale id")
	ErrBadFrame         = errors.New("malformed weight registers")
)

// tareCommand is the value written to a tare register to zero its scale.
const tareCommand = 1

// Config is the PLC address and register map.
type Config struct {
	Address        string
	UnitID         byte
	Scale1Register uint16
	Scale2Register uint16
	Scale1Tare     uint16
	Scale2Tare     uint16
	Timeout        time.Duration
}

// Conn is an open register-level connection to the PLC.
type Conn interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	Close() error
}

// DialFunc opens a Conn.
type DialFunc func(ctx context.Context, cfg Config) (Conn, error)

type tcpConn struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

func (c *tcpConn) Close() error {
	return c.handler.Close()
}

// DialTCP opens a Modbus TCP connection using goburrow's handler.
func DialTCP(ctx context.Context, cfg Config) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handler := modbus.NewTCPClientHandler(cfg.Address)
	handler.Timeout = cfg.Timeout
	handler.SlaveId = cfg.UnitID
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to PLC at %s: %w", cfg.Address, err)
	}
	return &tcpConn{Client: modbus.NewClient(handler), handler: handler}, nil
}

// Status reports which scales passed the verification read on connect.
type Status struct {
	Scale1 bool
	Scale2 bool
}

// Any reports whether at least one scale is available.
func (s Status) Any() bool {
	return s.Scale1 || s.Scale2
}

// Link owns the PLC connection. It is safe for concurrent use; calls are
// serialized.
type Link struct {
	cfg  Config
	dial DialFunc

	mu        sync.Mutex
	conn      Conn
	available [3]bool // indexed by scale id
}

// Option configures a Link.
type Option func(*Link)

// WithDialer replaces the Modbus TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(l *Link) {
		l.dial = d
	}
}

// NewLink creates an unconnected Link.
func NewLink(cfg Config, opts ...Option) *Link {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	l := &Link{cfg: cfg, dial: DialTCP}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connect opens the transport and verifies each scale with one read. It
// fails only when the transport cannot be opened or no scale answers.
func (l *Link) Connect(ctx context.Context) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeLocked()

	dctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	conn, err := l.dial(dctx, l.cfg)
	if err != nil {
		return Status{}, err
	}
	l.conn = conn

	var status Status
	for _, id := range []int{models.Scale1, models.Scale2} {
		if _, err := l.readLocked(ctx, id); err != nil {
			logger.Warn("Scale %d verification read failed: %v", id, err)
			continue
		}
		l.available[id] = true
	}
	status.Scale1 = l.available[models.Scale1]
	status.Scale2 = l.available[models.Scale2]

	if !status.Any() {
		l.closeLocked()
		return status, errors.New("no scale answered the verification read")
	}
	logger.Info("Connected to PLC at %s (scale1=%t, scale2=%t)", l.cfg.Address, status.Scale1, status.Scale2)
	return status, nil
}

// ReadWeight returns the scale's weight in kg rounded to grams. On failure it
// returns zero and the error.
func (l *Link) ReadWeight(ctx context.Context, scaleID int) (decimal.Decimal, error) {
	if !models.ValidScaleID(scaleID) {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrInvalidScale, scaleID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return decimal.Zero, ErrNotConnected
	}
	if !l.available[scaleID] {
		return decimal.Zero, fmt.Errorf("%w: scale %d", ErrScaleUnavailable, scaleID)
	}
	return l.readLocked(ctx, scaleID)
}

// Tare zeroes the scale by writing to its tare register.
func (l *Link) Tare(ctx context.Context, scaleID int) error {
	if !models.ValidScaleID(scaleID) {
		return fmt.Errorf("%w: %d", ErrInvalidScale, scaleID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return ErrNotConnected
	}
	reg := l.cfg.Scale1Tare
	if scaleID == models.Scale2 {
		reg = l.cfg.Scale2Tare
	}
	conn := l.conn
	err := l.call(ctx, func() error {
		_, err := conn.WriteSingleRegister(reg, tareCommand)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to tare scale %d: %w", scaleID, err)
	}
	logger.Info("Tared scale %d", scaleID)
	return nil
}

// IsConnected reports whether a transport is open.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Connected reports whether scaleID passed verification on the last connect.
func (l *Link) Connected(scaleID int) bool {
	if !models.ValidScaleID(scaleID) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil && l.available[scaleID]
}

// Close releases the transport. It is safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Link) closeLocked() error {
	l.available = [3]bool{}
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

func (l *Link) readLocked(ctx context.Context, scaleID int) (decimal.Decimal, error) {
	reg := l.cfg.Scale1Register
	if scaleID == models.Scale2 {
		reg = l.cfg.Scale2Register
	}
	conn := l.conn

	var raw []byte
	err := l.call(ctx, func() error {
		var err error
		raw, err = conn.ReadHoldingRegisters(reg, 2)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read scale %d: %w", scaleID, err)
	}
	w, err := DecodeWeight(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("scale %d: %w", scaleID, err)
	}
	return w, nil
}

// call runs fn bounded by both ctx and the configured timeout.
func (l *Link) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DecodeWeight converts two holding registers into kg. The first register
// carries the high word of an IEEE-754 float32; both are big endian.
func DecodeWeight(raw []byte) (decimal.Decimal, error) {
	if len(raw) < 4 {
		return decimal.Zero, fmt.Errorf("%w: got %d bytes", ErrBadFrame, len(raw))
	}
	f := math.Float32frombits(binary.BigEndian.Uint32(raw[:4]))
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return decimal.Zero, fmt.Errorf("%w: non-finite value", ErrBadFrame)
	}
	return decimal.NewFromFloat32(f).Round(3), nil
}

// EncodeWeight is the inverse of DecodeWeight, used by simulators.
func EncodeWeight(kg float32) []byte {
	raw := make([]byte, 4)
	binary.BigEndian.PutUint32(raw, math.Float32bits(kg))
	return raw
}
