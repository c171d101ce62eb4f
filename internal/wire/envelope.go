package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is the standard response wrapper carried by every inbound
// push frame and every HTTP API response.
type Envelope struct {
	Code    StatusCode      `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Push is the inner body of a push envelope: a kind tag plus the
// kind-specific payload, still raw.
type Push struct {
	Type MsgKind         `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodePush parses a raw text frame into its envelope and push body.
// Any shape that does not carry a push payload is an error; callers
// drop such frames.
func DecodePush(raw []byte) (*Envelope, *Push, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return &env, nil, fmt.Errorf("envelope has no data")
	}
	var push Push
	if err := json.Unmarshal(env.Data, &push); err != nil {
		return &env, nil, fmt.Errorf("decode push body: %w", err)
	}
	return &env, &push, nil
}

// OutboundType tags client-originated socket frames.
type OutboundType string

const OutboundHeartbeat OutboundType = "HEARTBEAT"

// Outbound is a client-to-server socket frame. Chat submissions do not
// use it; they go over the HTTP API. The socket only carries liveness.
type Outbound struct {
	Type OutboundType `json:"type"`
	Data any          `json:"data"`
}

// HeartbeatFrame returns the serialized liveness probe.
func HeartbeatFrame() []byte {
	b, _ := json.Marshal(Outbound{Type: OutboundHeartbeat, Data: nil})
	return b
}
