package transport

import "context"

// Backend is one underlying socket implementation. A backend handle is
// single-use: after Dial it belongs to exactly one Conn, and once a
// Receive call returns an error the handle is dead and is never
// reused. Backend selection happens at construction time; shared logic
// never branches on backend identity.
type Backend interface {
	// Dial opens the socket. For the gorilla backend the call returns
	// as soon as the HTTP upgrade completes; for the coder backend the
	// full handshake is awaited.
	Dial(ctx context.Context, url string) error
	// Send writes one text frame.
	Send(ctx context.Context, data []byte) error
	// Receive blocks for the next text frame. A clean remote close
	// returns ErrCleanClose; any other failure is transport-fatal.
	Receive(ctx context.Context) ([]byte, error)
	// Close closes the socket, best-effort.
	Close() error
}

// BackendFactory produces a fresh backend handle for each connection
// attempt. Reconnects never reuse a handle.
type BackendFactory func() Backend
