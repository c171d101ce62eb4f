package transport

import (
	"context"
	"errors"
	"sync"

	"pigeon/internal/bus"

	"go.uber.org/zap"
)

// MessageHandler receives every inbound text frame.
type MessageHandler func(data []byte)

// Conn presents a uniform connect/send/close surface over whichever
// backend it was constructed with. It exclusively owns the backend
// handle; on reconnect the handle is swapped wholesale, never reused.
// Failures are surfaced only through status transitions, published as
// ws.status events.
type Conn struct {
	mu      sync.Mutex
	status  Status
	handle  Backend
	gen     uint64 // increments per dial; stale read loops detect the swap
	url     string
	cancel  context.CancelFunc
	handler MessageHandler

	factory BackendFactory
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewConn creates a connection using the given backend factory. The
// initial status is SafeClosed: nothing has been attempted yet.
func NewConn(factory BackendFactory, b *bus.Bus, logger *zap.Logger) *Conn {
	return &Conn{
		status:  SafeClosed,
		factory: factory,
		bus:     b,
		logger:  logger,
	}
}

// OnMessage sets the handler invoked for every received text frame.
// Must be called before Connect.
func (c *Conn) OnMessage(h MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Status returns the current connection status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect dials the endpoint. Idempotent when already Open. A dial
// failure leaves the connection Closed; success leaves it Open with a
// receive loop running against the fresh handle.
func (c *Conn) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.status == Open && c.handle != nil {
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(Connecting)
	handle := c.factory()
	c.gen++
	gen := c.gen
	c.url = url
	c.mu.Unlock()

	if err := handle.Dial(ctx, url); err != nil {
		c.mu.Lock()
		c.setStatusLocked(Closed)
		c.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.gen != gen {
		// Another connect or close raced us; this handle lost.
		c.mu.Unlock()
		cancel()
		_ = handle.Close()
		return errors.New("connection superseded")
	}
	c.handle = handle
	c.cancel = cancel
	c.setStatusLocked(Open)
	handler := c.handler
	c.mu.Unlock()

	go c.receiveLoop(loopCtx, handle, gen, handler)
	return nil
}

// Send writes one text frame. Silent no-op unless Open: a closed
// connection never throws, failure is observed via status alone.
func (c *Conn) Send(data []byte) {
	c.mu.Lock()
	handle := c.handle
	open := c.status == Open
	c.mu.Unlock()
	if !open || handle == nil {
		return
	}
	if err := handle.Send(context.Background(), data); err != nil {
		c.logger.Warn("send failed", zap.Error(err))
		c.terminate(handle, Closed)
	}
}

// Close shuts the connection down deliberately. Transport errors are
// swallowed; the status always ends SafeClosed and the handle is
// dropped.
func (c *Conn) Close() {
	c.mu.Lock()
	handle := c.handle
	cancel := c.cancel
	c.handle = nil
	c.cancel = nil
	c.gen++
	c.setStatusLocked(SafeClosed)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			c.logger.Debug("close error ignored", zap.Error(err))
		}
	}
}

func (c *Conn) receiveLoop(ctx context.Context, handle Backend, gen uint64, handler MessageHandler) {
	for {
		data, err := handle.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // deliberate close already settled the status
			}
			final := Closed
			if errors.Is(err, ErrCleanClose) {
				final = SafeClosed
			} else {
				c.logger.Warn("connection lost", zap.Error(err))
			}
			c.terminateGen(handle, gen, final)
			return
		}
		if handler != nil {
			handler(data)
		}
	}
}

// terminate drops the given handle if it is still the current one.
func (c *Conn) terminate(handle Backend, final Status) {
	c.mu.Lock()
	if c.handle != handle {
		c.mu.Unlock()
		return
	}
	c.dropLocked(final)
	c.mu.Unlock()
	_ = handle.Close()
}

func (c *Conn) terminateGen(handle Backend, gen uint64, final Status) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.dropLocked(final)
	c.mu.Unlock()
	_ = handle.Close()
}

func (c *Conn) dropLocked(final Status) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.handle = nil
	c.setStatusLocked(final)
}

func (c *Conn) setStatusLocked(to Status) {
	from := c.status
	if from == to {
		return
	}
	if !canTransition(from, to) {
		c.logger.Debug("ignoring invalid status transition",
			zap.String("from", from.String()), zap.String("to", to.String()))
		return
	}
	c.status = to
	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:    bus.KindWSStatus,
			Payload: StatusChange{From: from, To: to},
		})
	}
}
