package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Push event kinds, one per inbound message kind. Published by the
// inbound router after the payload has been appended to its inbox
// bucket.
const (
	KindPushMessage  = "push.message"
	KindPushRecall   = "push.recall"
	KindPushDelete   = "push.delete"
	KindPushApply    = "push.apply"
	KindPushMember   = "push.member"
	KindPushToken    = "push.token"
	KindPushOnline   = "push.online"
	KindPushRTC      = "push.rtc"
	KindPushPin      = "push.pin"
	KindPushAIStream = "push.ai_stream"
)

// Send-queue lifecycle event kinds.
const (
	KindQueueAdd        = "queue.add"
	KindQueueProcessing = "queue.processing"
	KindQueueSuccess    = "queue.success"
	KindQueueError      = "queue.error"
	KindQueueRetry      = "queue.retry"
	KindQueueClear      = "queue.clear"
)

// Connection and session event kinds.
const (
	KindWSStatus       = "ws.status"
	KindWSReload       = "ws.reload"
	KindSessionExpired = "session.expired"
)

// Conversation-state change notifications for UI observers.
const (
	KindChatContact      = "chat.contact"
	KindChatMessage      = "chat.message"
	KindChatScrollBottom = "chat.scroll_bottom"
	KindChatReloadMember = "chat.reload_members"
)

// Notification gating events: published for message/apply pushes whose
// sender is not the current user. Delivery mechanics are external.
const (
	KindNotifyMessage = "notify.message"
	KindNotifyApply   = "notify.apply"
)
