// Package api is the HTTP client for the chat backend. Chat message
// submission and authoritative conversation state go over this
// request/response API; the socket only carries push delivery.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pigeon/internal/auth"
	"pigeon/internal/wire"

	"go.uber.org/zap"
)

// NotFriendsMessage is the server's rejection text when messaging a
// removed friend. The send queue treats it as a known terminal error.
const NotFriendsMessage = "您和对方已不是好友！"

// APIError is a completed round trip whose application code was not
// success. Distinct from transport errors, which surface as plain
// wrapped errors.
type APIError struct {
	Code    wire.StatusCode
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// IsNotFriends reports whether err is the known friend-removed
// rejection.
func IsNotFriends(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Message == NotFriendsMessage
}

// TokenChecker is notified of token-level status codes on any response.
type TokenChecker interface {
	Expire(reason string)
}

// Client talks to the chat HTTP API with bearer authentication.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
	guard   TokenChecker
	logger  *zap.Logger
}

// NewClient creates an API client.
func NewClient(baseURL string, tokens auth.TokenSource, guard TokenChecker, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		guard:   guard,
		logger:  logger,
	}
}

// SendMessage submits one compose-box form. Returns the server-assigned
// message on success.
func (c *Client) SendMessage(ctx context.Context, form wire.MessageForm) (*wire.ChatMessage, error) {
	var msg wire.ChatMessage
	if err := c.call(ctx, http.MethodPost, "/chat/message", form, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ContactDetail fetches the authoritative conversation record.
func (c *Client) ContactDetail(ctx context.Context, roomID int64) (*wire.ContactDetail, error) {
	var detail wire.ContactDetail
	path := fmt.Sprintf("/chat/contact/%d", roomID)
	if err := c.call(ctx, http.MethodGet, path, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// MarkRead marks the whole room read on the server.
func (c *Client) MarkRead(ctx context.Context, roomID int64) error {
	path := fmt.Sprintf("/chat/message/read/%d", roomID)
	return c.call(ctx, http.MethodPut, path, nil, nil)
}

// RoomMembers fetches one page of a room's member list.
func (c *Client) RoomMembers(ctx context.Context, roomID int64) ([]wire.Member, error) {
	var members []wire.Member
	path := fmt.Sprintf("/chat/room/%d/members", roomID)
	if err := c.call(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized && c.guard != nil {
		c.guard.Expire("http 401")
	}

	var env wire.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code.IsTokenError() && c.guard != nil {
		c.guard.Expire(fmt.Sprintf("response code %d", env.Code))
	}
	if env.Code != wire.StatusSuccess {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}
