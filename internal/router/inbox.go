package router

import (
	"encoding/json"
	"sync"

	"pigeon/internal/wire"
)

// Inbox holds the per-kind unconsumed-message buckets. The router only
// appends; consumers are responsible for draining what they have
// processed, which makes each bucket an at-least-once inbox rather than
// a fire-and-forget stream.
type Inbox struct {
	mu      sync.Mutex
	newMsg  []wire.ChatMessage
	recall  []wire.MsgRecall
	deleted []wire.MsgDelete
	apply   []wire.FriendApply
	member  []wire.MemberChange
	token   []json.RawMessage
	rtc     []wire.RTCCall
	pin     []wire.PinContact
	ai      []wire.AIStreamChunk
	online  []wire.OnlineNotice
	other   []json.RawMessage
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox { return &Inbox{} }

// Add methods append to the per-kind buckets. The router is the only
// producer in normal operation.

func (i *Inbox) AddMessage(m wire.ChatMessage)   { i.mu.Lock(); i.newMsg = append(i.newMsg, m); i.mu.Unlock() }
func (i *Inbox) AddRecall(m wire.MsgRecall)      { i.mu.Lock(); i.recall = append(i.recall, m); i.mu.Unlock() }
func (i *Inbox) AddDelete(m wire.MsgDelete)      { i.mu.Lock(); i.deleted = append(i.deleted, m); i.mu.Unlock() }
func (i *Inbox) AddApply(m wire.FriendApply)     { i.mu.Lock(); i.apply = append(i.apply, m); i.mu.Unlock() }
func (i *Inbox) AddMember(m wire.MemberChange)   { i.mu.Lock(); i.member = append(i.member, m); i.mu.Unlock() }
func (i *Inbox) AddToken(raw json.RawMessage)    { i.mu.Lock(); i.token = append(i.token, raw); i.mu.Unlock() }
func (i *Inbox) AddRTC(m wire.RTCCall)           { i.mu.Lock(); i.rtc = append(i.rtc, m); i.mu.Unlock() }
func (i *Inbox) AddPin(m wire.PinContact)        { i.mu.Lock(); i.pin = append(i.pin, m); i.mu.Unlock() }
func (i *Inbox) AddAIStream(m wire.AIStreamChunk) { i.mu.Lock(); i.ai = append(i.ai, m); i.mu.Unlock() }
func (i *Inbox) AddOnline(m wire.OnlineNotice)   { i.mu.Lock(); i.online = append(i.online, m); i.mu.Unlock() }
func (i *Inbox) AddOther(raw json.RawMessage)    { i.mu.Lock(); i.other = append(i.other, raw); i.mu.Unlock() }

// DrainMessages removes and returns every buffered new message.
func (i *Inbox) DrainMessages() []wire.ChatMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.newMsg
	i.newMsg = nil
	return out
}

// DrainMessagesForRoom removes buffered new messages belonging to one
// room, leaving the rest.
func (i *Inbox) DrainMessagesForRoom(roomID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	kept := i.newMsg[:0]
	for _, m := range i.newMsg {
		if m.Message.RoomID != roomID {
			kept = append(kept, m)
		}
	}
	i.newMsg = kept
}

// DrainRecall removes only the recall entries for the given message id.
func (i *Inbox) DrainRecall(msgID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	kept := i.recall[:0]
	for _, m := range i.recall {
		if m.MsgID != msgID {
			kept = append(kept, m)
		}
	}
	i.recall = kept
}

// DrainDelete removes only the delete entries for the given message id.
func (i *Inbox) DrainDelete(msgID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	kept := i.deleted[:0]
	for _, m := range i.deleted {
		if m.MsgID != msgID {
			kept = append(kept, m)
		}
	}
	i.deleted = kept
}

// DrainMembers removes and returns the whole buffered member-change
// batch, in arrival order.
func (i *Inbox) DrainMembers() []wire.MemberChange {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.member
	i.member = nil
	return out
}

// DrainApply removes and returns buffered friend applications.
func (i *Inbox) DrainApply() []wire.FriendApply {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.apply
	i.apply = nil
	return out
}

// DrainPin removes and returns buffered pin notifications.
func (i *Inbox) DrainPin() []wire.PinContact {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.pin
	i.pin = nil
	return out
}

// DrainAIStream removes the stream chunks buffered for one message.
func (i *Inbox) DrainAIStream(msgID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	kept := i.ai[:0]
	for _, m := range i.ai {
		if m.MsgID != msgID {
			kept = append(kept, m)
		}
	}
	i.ai = kept
}

// DrainOnline removes and returns buffered presence notices.
func (i *Inbox) DrainOnline() []wire.OnlineNotice {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.online
	i.online = nil
	return out
}

// DrainRTC removes and returns buffered call signals.
func (i *Inbox) DrainRTC() []wire.RTCCall {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.rtc
	i.rtc = nil
	return out
}

// Reset clears every bucket, used on session teardown.
func (i *Inbox) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.newMsg, i.recall, i.deleted, i.apply = nil, nil, nil, nil
	i.member, i.token, i.rtc, i.pin = nil, nil, nil, nil
	i.ai, i.online, i.other = nil, nil, nil
}

// Sizes reports the bucket depths, keyed by bucket name.
func (i *Inbox) Sizes() map[string]int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return map[string]int{
		"newMsg":  len(i.newMsg),
		"recall":  len(i.recall),
		"delete":  len(i.deleted),
		"apply":   len(i.apply),
		"member":  len(i.member),
		"token":   len(i.token),
		"rtc":     len(i.rtc),
		"pin":     len(i.pin),
		"ai":      len(i.ai),
		"online":  len(i.online),
		"other":   len(i.other),
	}
}
