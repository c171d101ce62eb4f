package daemon

import (
	"context"
	"net/url"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"pigeon/internal/auth"
	"pigeon/internal/bus"
	"pigeon/internal/heartbeat"
	"pigeon/internal/transport"
	"pigeon/internal/wire"
)

// Client drives the socket lifecycle: it answers the heartbeat
// monitor's signals, feeds status changes back to the monitor, and
// rebuilds the connection with exponential backoff when it degrades.
// The transport itself never reconnects; all recovery lives here.
type Client struct {
	conn    *transport.Conn
	monitor *heartbeat.Monitor
	guard   *auth.SessionGuard
	tokens  auth.TokenSource
	wsURL   string
	bus     *bus.Bus
	logger  *zap.Logger

	reconnecting atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewClient creates a stopped driver.
func NewClient(conn *transport.Conn, monitor *heartbeat.Monitor, guard *auth.SessionGuard, tokens auth.TokenSource, wsURL string, b *bus.Bus, logger *zap.Logger) *Client {
	return &Client{
		conn:    conn,
		monitor: monitor,
		guard:   guard,
		tokens:  tokens,
		wsURL:   wsURL,
		bus:     b,
		logger:  logger.Named("client"),
	}
}

// Start launches the driver and the first connection attempt.
func (c *Client) Start() {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	c.monitor.Start()
	go c.run()
	c.requestReconnect()
}

// Stop tears the driver down and closes the socket cleanly.
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.monitor.Stop()
	c.conn.Close()
}

func (c *Client) run() {
	defer close(c.done)
	statusCh, unsubStatus := c.bus.Subscribe("ws.", 32)
	defer unsubStatus()
	sessionCh, unsubSession := c.bus.Subscribe("session.", 8)
	defer unsubSession()

	for {
		select {
		case <-c.ctx.Done():
			return
		case sig := <-c.monitor.Signals():
			c.handleSignal(sig)
		case evt := <-statusCh:
			switch evt.Kind {
			case bus.KindWSStatus:
				if change, ok := evt.Payload.(transport.StatusChange); ok {
					c.monitor.SetStatus(change.To)
					if change.To == transport.Closed {
						c.requestReconnect()
					}
				}
			case bus.KindWSReload:
				c.requestReconnect()
			}
		case evt := <-sessionCh:
			if evt.Kind == bus.KindSessionExpired {
				// Dead credentials: close cleanly and stay down until
				// the guard is reset with a fresh token.
				c.logger.Warn("session expired, closing socket")
				c.conn.Close()
			}
		}
	}
}

func (c *Client) handleSignal(sig heartbeat.Signal) {
	switch sig.Type {
	case heartbeat.SignalBeat:
		// Re-validate: the status snapshot the monitor acted on may be
		// stale by the time the signal arrives.
		if c.conn.Status() == transport.Open {
			c.conn.Send(wire.HeartbeatFrame())
			return
		}
		c.requestReconnect()
	case heartbeat.SignalReload:
		c.requestReconnect()
	}
}

// requestReconnect starts one reconnect loop; duplicate requests while
// a loop is already running are dropped.
func (c *Client) requestReconnect() {
	if c.guard.Expired() {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.reconnecting.Store(false)
		c.reconnect()
	}()
}

func (c *Client) reconnect() {
	token := c.tokens.Token()
	if token == "" {
		// Without credentials the socket is intentionally down.
		c.logger.Info("no token, leaving socket closed")
		c.conn.Close()
		return
	}

	endpoint := c.wsURL + "?Authorization=" + url.QueryEscape(token)
	op := func() error {
		if c.guard.Expired() {
			return backoff.Permanent(context.Canceled)
		}
		return c.conn.Connect(c.ctx, endpoint)
	}
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), c.ctx)
	if err := backoff.Retry(op, policy); err != nil {
		c.logger.Warn("reconnect abandoned", zap.Error(err))
		return
	}
	c.logger.Info("socket connected")
}
