package renogymodbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrConnectionLost is returned when the BLE link drops mid-request or
	// before a request could be written.
	ErrConnectionLost = errors.New("renogymodbus: connection lost")

	// ErrResponseTimeout is returned when a request was written but no
	// complete response frame arrived in time. The link itself may still
	// be up.
	ErrResponseTimeout = errors.New("renogymodbus: response timeout")
)

// Transport is a byte-oriented link to a BT-1/BT-2 module. Connect returns
// the notification stream; the transport closes it when the link drops.
type Transport interface {
	Connect(ctx context.Context) (<-chan []byte, error)
	Write(data []byte) error
	Close() error
}

// HubConn drives one BT module link. Several logical devices can sit behind
// one module (hub topology), so all reads for those devices funnel through
// the same HubConn. A mutex keeps at most one request in flight: the modules
// drop or garble interleaved requests.
type HubConn struct {
	transport Transport
	logger    *zap.Logger

	responseTimeout time.Duration
	requestGap      time.Duration

	mu            chan struct{} // semaphore, lets Lock honor ctx
	notifications <-chan []byte
	asm           Assembler
	lastRequest   time.Time

	stateMu   sync.Mutex
	connected bool
}

type HubConnOption func(*HubConn)

// WithResponseTimeout overrides the per-request response deadline.
func WithResponseTimeout(d time.Duration) HubConnOption {
	return func(c *HubConn) { c.responseTimeout = d }
}

// WithRequestGap overrides the quiet period enforced between requests.
// The BT modules need a moment between transactions.
func WithRequestGap(d time.Duration) HubConnOption {
	return func(c *HubConn) { c.requestGap = d }
}

func NewHubConn(transport Transport, logger *zap.Logger, opts ...HubConnOption) *HubConn {
	c := &HubConn{
		transport:       transport,
		logger:          logger,
		responseTimeout: 5 * time.Second,
		requestGap:      500 * time.Millisecond,
		mu:              make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HubConn) lock(ctx context.Context) error {
	select {
	case c.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *HubConn) unlock() {
	<-c.mu
}

// Connect establishes the BLE link. Safe to call again after a loss.
func (c *HubConn) Connect(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	notifications, err := c.transport.Connect(ctx)
	if err != nil {
		return err
	}
	c.notifications = notifications
	c.setConnected(true)
	c.asm.Reset()
	c.logger.Debug("hub link established")
	return nil
}

// Connected reports whether the last known link state was up. It can go
// stale until the next read notices the loss.
func (c *HubConn) Connected() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.connected
}

func (c *HubConn) setConnected(up bool) {
	c.stateMu.Lock()
	c.connected = up
	c.stateMu.Unlock()
}

// ReadRegisters performs one read holding registers transaction and returns
// the register payload. Calls are serialized; concurrent callers queue.
func (c *HubConn) ReadRegisters(ctx context.Context, deviceID uint8, register uint16, words uint16) ([]byte, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	if !c.Connected() {
		return nil, ErrConnectionLost
	}

	// quiet gap between transactions
	if wait := c.requestGap - time.Since(c.lastRequest); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.lastRequest = time.Now()

	c.asm.Reset()
	request := EncodeReadRequest(deviceID, FuncReadHoldingRegisters, register, words)
	if err := c.transport.Write(request); err != nil {
		c.markLost()
		return nil, ErrConnectionLost
	}

	deadline := time.NewTimer(c.responseTimeout)
	defer deadline.Stop()

	for {
		if frame := c.asm.Next(); frame != nil {
			payload, err := DecodeResponse(frame, deviceID, FuncReadHoldingRegisters)
			if err != nil {
				return nil, err
			}
			return payload, nil
		}
		select {
		case chunk, ok := <-c.notifications:
			if !ok {
				c.markLost()
				return nil, ErrConnectionLost
			}
			c.asm.Feed(chunk)
		case <-deadline.C:
			c.logger.Debug("response timeout",
				zap.Uint8("device_id", deviceID),
				zap.Uint16("register", register))
			return nil, ErrResponseTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *HubConn) markLost() {
	if c.Connected() {
		c.setConnected(false)
		c.logger.Debug("hub link lost")
	}
}

// Close tears down the BLE link.
func (c *HubConn) Close() error {
	if err := c.lock(context.Background()); err != nil {
		return err
	}
	defer c.unlock()
	c.setConnected(false)
	return c.transport.Close()
}
