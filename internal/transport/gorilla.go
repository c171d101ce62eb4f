package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// ErrCleanClose is returned by Receive when the peer closed the
// connection with a normal close frame.
var ErrCleanClose = errors.New("connection closed cleanly")

// gorillaBackend is the default socket implementation.
type gorillaBackend struct {
	conn *websocket.Conn
}

// NewGorillaBackend returns a factory for gorilla/websocket handles.
func NewGorillaBackend() BackendFactory {
	return func() Backend { return &gorillaBackend{} }
}

func (g *gorillaBackend) Dial(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	g.conn = conn
	return nil
}

func (g *gorillaBackend) Send(_ context.Context, data []byte) error {
	if g.conn == nil {
		return errors.New("not connected")
	}
	return g.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *gorillaBackend) Receive(_ context.Context) ([]byte, error) {
	if g.conn == nil {
		return nil, errors.New("not connected")
	}
	for {
		kind, data, err := g.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrCleanClose
			}
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
		// Binary, ping and pong frames are not part of the protocol.
	}
}

func (g *gorillaBackend) Close() error {
	if g.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = g.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return g.conn.Close()
}
