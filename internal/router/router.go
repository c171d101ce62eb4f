package router

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"pigeon/internal/bus"
	"pigeon/internal/wire"
)

// Router classifies raw frames from the socket into the typed inbox
// buckets and announces each arrival on the event bus. Decoding
// problems never bubble up to the connection: a frame that cannot be
// parsed is logged and dropped so one bad payload cannot take the
// session down.
type Router struct {
	inbox  *Inbox
	bus    *bus.Bus
	guard  Guard
	selfID func() string
	logger *zap.Logger
}

// Guard is notified when the server reports the credentials are no
// longer valid.
type Guard interface {
	Expire(reason string)
}

// New creates a router writing into inbox. selfID resolves the current
// account id and is consulted per frame, so a profile loaded after
// startup is picked up without rewiring.
func New(inbox *Inbox, b *bus.Bus, guard Guard, selfID func() string, logger *zap.Logger) *Router {
	return &Router{
		inbox:  inbox,
		bus:    b,
		guard:  guard,
		selfID: selfID,
		logger: logger.Named("router"),
	}
}

// HandleFrame ingests one raw text frame. It is the transport's
// message callback.
func (r *Router) HandleFrame(data []byte) {
	env, push, err := wire.DecodePush(data)
	if env != nil && env.Code.IsTokenError() {
		r.logger.Warn("server reported credential failure", zap.Int("code", int(env.Code)))
		r.guard.Expire(fmt.Sprintf("response code %d", env.Code))
		return
	}
	if err != nil {
		r.logger.Debug("dropping undecodable frame", zap.Error(err))
		return
	}
	r.dispatch(push)
}

func (r *Router) dispatch(push *wire.Push) {
	switch push.Type {
	case wire.KindMessage:
		var m wire.ChatMessage
		if !r.decodeBody(push, &m) {
			return
		}
		r.inbox.AddMessage(m)
		r.bus.Publish(bus.Event{Kind: bus.KindPushMessage, Payload: m})
		if self := r.selfID(); m.FromUser.UserID != "" && m.FromUser.UserID != self {
			r.bus.Publish(bus.Event{Kind: bus.KindNotifyMessage, Payload: m})
		}
	case wire.KindRecall:
		var m wire.MsgRecall
		if !r.decodeBody(push, &m) {
			return
		}
		r.inbox.AddRecall(m)
		r.bus.Publish(bus.Event{Kind: bus.KindPushRecall, Payload: m})
	case wire.KindDelete:
		var m wire.MsgDelete
		if !r.decodeBody(push, &m) {
			return
		}
		r.inbox.AddDelete(m)
		r.bus.Publish(bus.Event{Kind: bus.KindPushDelete, Payload: m})
	case wire.KindApply:
		var m wire.FriendApply
		if !r.decodeBody(push, &m) {
			return
		}
		r.inbox.AddApply(m)
		r.bus.Publish(bus.Event{Kind: bus.KindPushApply, Payload: m})
		if self := r.selfID(); m.UID != "" && m.UID != self {
			r.bus.Publish(bus.Event{Kind: bus.KindNotifyApply, Payload: m})
		}
	case wire.KindMemberChange:
		var m wire.MemberChange
		if !r.decodeBody(push, &m) {
			return
		}
		r.inbox.AddMember(m)
		r.bus.Publish(bus.Event{Kind: bus.KindPushMember, Payload: m})
	case wire.KindTokenExpired:
		r.inbox.AddToken(push.Data)
		r.logger.Warn("token expiry push received")
		r.guard.Expire("token expiry push")
	case wire.KindOnlineOffline:
		var m wire.OnlineNotice
		if !r.decodeBody(push, &m) {
			return
		}
		r.inbox.AddOnline(m)
		r.bus.Publish(bus.Event{Kind: bus.KindPushOnline, Payload: m})
	case wire.KindRTCCall:
		var m wire.RTCCall
		if !r.decodeBody(push, &m) {
			return
		}
		r.inbox.AddRTC(m)
		r.bus.Publish(bus.Event{Kind: bus.KindPushRTC, Payload: m})
	case wire.KindPinContact:
		var m wire.PinContact
		if !r.decodeBody(push, &m) {
			return
		}
		r.inbox.AddPin(m)
		r.bus.Publish(bus.Event{Kind: bus.KindPushPin, Payload: m})
	case wire.KindAIStream:
		var m wire.AIStreamChunk
		if !r.decodeBody(push, &m) {
			return
		}
		r.inbox.AddAIStream(m)
		r.bus.Publish(bus.Event{Kind: bus.KindPushAIStream, Payload: m})
	default:
		// Unknown kinds are kept for inspection but announced to
		// nobody.
		r.inbox.AddOther(push.Data)
		r.logger.Debug("buffered frame of unknown kind", zap.Int("kind", int(push.Type)))
	}
}

func (r *Router) decodeBody(push *wire.Push, dst any) bool {
	if err := json.Unmarshal(push.Data, dst); err != nil {
		r.logger.Debug("dropping frame with malformed body",
			zap.Int("kind", int(push.Type)), zap.Error(err))
		return false
	}
	return true
}
