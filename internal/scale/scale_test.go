package scale

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeConn struct {
	mu      sync.Mutex
	regs    map[uint16][]byte
	readErr map[uint16]error
	writes  map[uint16]uint16
	block   chan struct{}
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		regs:    make(map[uint16][]byte),
		readErr: make(map[uint16]error),
		writes:  make(map[uint16]uint16),
	}
}

func (f *fakeConn) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[address]; err != nil {
		return nil, err
	}
	raw, ok := f.regs[address]
	if !ok {
		return nil, errors.New("illegal data address")
	}
	if quantity != 2 {
		return nil, errors.New("unexpected quantity")
	}
	return raw, nil
}

func (f *fakeConn) WriteSingleRegister(address, value uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[address] = value
	return []byte{byte(value >> 8), byte(value)}, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testConfig() Config {
	return Config{
		Address:        "plc:502",
		UnitID:         1,
		Scale1Register: 0,
		Scale2Register: 2,
		Scale1Tare:     100,
		Scale2Tare:     101,
		Timeout:        200 * time.Millisecond,
	}
}

func newTestLink(conn *fakeConn, dialErr error) *Link {
	return NewLink(testConfig(), WithDialer(func(ctx context.Context, cfg Config) (Conn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return conn, nil
	}))
}

func TestDecodeWeightRegisterOrder(t *testing.T) {
	// 12.5 as float32 is 0x41480000: high word first.
	raw := []byte{0x41, 0x48, 0x00, 0x00}
	w, err := DecodeWeight(raw)
	if err != nil {
		t.Fatalf("DecodeWeight: %v", err)
	}
	if !w.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("weight = %s, want 12.5", w)
	}

	// Swapping the words must not decode to the same value.
	swapped, err := DecodeWeight([]byte{0x00, 0x00, 0x41, 0x48})
	if err != nil {
		t.Fatalf("DecodeWeight swapped: %v", err)
	}
	if swapped.Equal(w) {
		t.Error("word order is not significant")
	}
}

func TestDecodeWeightRoundsToGrams(t *testing.T) {
	w, err := DecodeWeight(EncodeWeight(1.23456))
	if err != nil {
		t.Fatalf("DecodeWeight: %v", err)
	}
	if !w.Equal(decimal.RequireFromString("1.235")) {
		t.Errorf("weight = %s, want 1.235", w)
	}
}

func TestDecodeWeightRejectsBadFrames(t *testing.T) {
	for _, raw := range [][]byte{nil, {0x41, 0x48}, {0x7f, 0xc0, 0x00, 0x00}, {0x7f, 0x80, 0x00, 0x00}} {
		if _, err := DecodeWeight(raw); !errors.Is(err, ErrBadFrame) {
			t.Errorf("DecodeWeight(% x) error = %v, want ErrBadFrame", raw, err)
		}
	}
}

func TestConnectVerifiesEachScale(t *testing.T) {
	conn := newFakeConn()
	conn.regs[0] = EncodeWeight(1.5)
	conn.readErr[2] = errors.New("timeout")
	link := newTestLink(conn, nil)

	status, err := link.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !status.Scale1 || status.Scale2 {
		t.Errorf("status = %+v, want scale1 only", status)
	}
	if !link.IsConnected() || !link.Connected(1) || link.Connected(2) {
		t.Error("availability flags not applied")
	}

	if _, err := link.ReadWeight(context.Background(), 2); !errors.Is(err, ErrScaleUnavailable) {
		t.Errorf("ReadWeight(2) error = %v, want ErrScaleUnavailable", err)
	}
	w, err := link.ReadWeight(context.Background(), 1)
	if err != nil || !w.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("ReadWeight(1) = %s, %v", w, err)
	}
}

func TestConnectFailsWhenNoScaleAnswers(t *testing.T) {
	conn := newFakeConn()
	link := newTestLink(conn, nil)

	if _, err := link.Connect(context.Background()); err == nil {
		t.Fatal("Connect should fail with no scales")
	}
	if link.IsConnected() || !conn.closed {
		t.Error("transport should be closed after failed verification")
	}
}

func TestConnectDialError(t *testing.T) {
	link := newTestLink(nil, errors.New("connection refused"))
	if _, err := link.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if _, err := link.ReadWeight(context.Background(), 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadWeight error = %v, want ErrNotConnected", err)
	}
}

func TestReadWeightFailureReturnsZero(t *testing.T) {
	conn := newFakeConn()
	conn.regs[0] = EncodeWeight(3)
	conn.regs[2] = EncodeWeight(4)
	link := newTestLink(conn, nil)
	if _, err := link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.mu.Lock()
	conn.readErr[2] = errors.New("crc error")
	conn.mu.Unlock()

	w, err := link.ReadWeight(context.Background(), 2)
	if err == nil || !w.IsZero() {
		t.Errorf("ReadWeight = %s, %v; want 0 and error", w, err)
	}
	if !link.Connected(2) {
		t.Error("a single failed read must not drop the scale")
	}
}

func TestReadWeightInvalidScale(t *testing.T) {
	link := newTestLink(newFakeConn(), nil)
	if _, err := link.ReadWeight(context.Background(), 3); !errors.Is(err, ErrInvalidScale) {
		t.Errorf("error = %v, want ErrInvalidScale", err)
	}
}

func TestReadWeightHonoursContext(t *testing.T) {
	conn := newFakeConn()
	conn.regs[0] = EncodeWeight(1)
	link := newTestLink(conn, nil)
	if _, err := link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.block = make(chan struct{})
	defer close(conn.block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := link.ReadWeight(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("read took %v, context not honoured", elapsed)
	}
}

func TestTareWritesConfiguredRegister(t *testing.T) {
	conn := newFakeConn()
	conn.regs[0] = EncodeWeight(0)
	conn.regs[2] = EncodeWeight(0)
	link := newTestLink(conn, nil)
	if _, err := link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := link.Tare(context.Background(), 2); err != nil {
		t.Fatalf("Tare: %v", err)
	}
	if conn.writes[101] != 1 {
		t.Errorf("tare register 101 = %d, want 1", conn.writes[101])
	}
	if _, ok := conn.writes[100]; ok {
		t.Error("scale 1 tare register should be untouched")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	conn.regs[0] = EncodeWeight(0)
	link := newTestLink(conn, nil)
	if _, err := link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if link.Connected(1) {
		t.Error("scale still reported connected after Close")
	}
}
