// Package auth holds the narrow collaborator surface the core uses for
// credentials: read the current bearer token, and tear the session down
// once when it expires. Login flows live outside the core.
package auth

import (
	"sync"
	"sync/atomic"

	"pigeon/internal/bus"

	"go.uber.org/zap"
)

// TokenSource yields the current bearer token, or "" when logged out.
type TokenSource interface {
	Token() string
}

// Static wraps a fixed token string as a TokenSource.
type Static string

func (s Static) Token() string { return string(s) }

// Profile is the current user's identity, used to build optimistic
// previews and to exclude self-sent messages from unread counts.
type Profile struct {
	UserID   string
	Nickname string
	Avatar   string
	Gender   int
}

// SessionGuard collapses concurrent session-expiry signals: the
// teardown event is published exactly once per expiry, no matter how
// many HTTP responses and pushes report it at the same time.
type SessionGuard struct {
	expired atomic.Bool
	mu      sync.Mutex
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewSessionGuard creates a guard publishing on the given bus.
func NewSessionGuard(b *bus.Bus, logger *zap.Logger) *SessionGuard {
	return &SessionGuard{bus: b, logger: logger}
}

// Expire reports the session as dead. Only the first call publishes
// session.expired; duplicates are swallowed.
func (g *SessionGuard) Expire(reason string) {
	if !g.expired.CompareAndSwap(false, true) {
		return
	}
	g.logger.Warn("session expired", zap.String("reason", reason))
	g.bus.Publish(bus.Event{Kind: bus.KindSessionExpired, Payload: reason})
}

// Reset re-arms the guard after a successful re-authentication.
func (g *SessionGuard) Reset() {
	g.expired.Store(false)
}

// Expired reports whether the session is currently marked dead.
func (g *SessionGuard) Expired() bool {
	return g.expired.Load()
}
