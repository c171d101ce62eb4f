package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// coderBackend is the alternative socket implementation, used where the
// hosting shell provides its own networking stack.
type coderBackend struct {
	conn *websocket.Conn
}

// NewCoderBackend returns a factory for coder/websocket handles.
func NewCoderBackend() BackendFactory {
	return func() Backend { return &coderBackend{} }
}

func (c *coderBackend) Dial(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn
	return nil
}

func (c *coderBackend) Send(ctx context.Context, data []byte) error {
	if c.conn == nil {
		return errors.New("not connected")
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *coderBackend) Receive(ctx context.Context) ([]byte, error) {
	if c.conn == nil {
		return nil, errors.New("not connected")
	}
	for {
		kind, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil, ErrCleanClose
			}
			return nil, err
		}
		if kind == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *coderBackend) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
