package wire

// StatusCode is the application-level result code carried by every
// server response, HTTP or push.
type StatusCode int

const (
	StatusSuccess         StatusCode = 200
	StatusTokenErr        StatusCode = 40001
	StatusTokenExpiredErr StatusCode = 40002
	StatusTokenDeviceErr  StatusCode = 40003
	StatusDeleteNoExist   StatusCode = 40005
)

// IsTokenError reports whether the code signals an expired or invalid
// session credential.
func (c StatusCode) IsTokenError() bool {
	return c == StatusTokenErr || c == StatusTokenExpiredErr || c == StatusTokenDeviceErr
}

// MsgKind discriminates inbound push envelopes.
type MsgKind int

const (
	KindMessage       MsgKind = 1  // new chat message
	KindRecall        MsgKind = 2  // message recalled
	KindDelete        MsgKind = 3  // message deleted
	KindApply         MsgKind = 4  // friend apply
	KindMemberChange  MsgKind = 5  // room member change
	KindTokenExpired  MsgKind = 6  // session credential expired
	KindOnlineOffline MsgKind = 7  // online/offline notice
	KindRTCCall       MsgKind = 8  // rtc call signalling
	KindPinContact    MsgKind = 10 // contact pinned/unpinned
	KindAIStream      MsgKind = 11 // streaming AI reply token
)

// RoomType distinguishes direct chats from group rooms.
type RoomType int

const (
	RoomGroup RoomType = 1
	RoomSelf  RoomType = 2
)

// MessageType tags the content shape of a chat message.
type MessageType int

const (
	MsgTypeText    MessageType = 1
	MsgTypeRecall  MessageType = 2
	MsgTypeDelete  MessageType = 3
	MsgTypeRTC     MessageType = 4
	MsgTypeAIReply MessageType = 5
)

// AIStreamStatus is the lifecycle status of a streaming AI reply.
type AIStreamStatus int

const (
	AIStreamStart AIStreamStatus = iota
	AIStreamInProgress
	AIStreamDone
	AIStreamError
)

// Terminal reports whether the stream has ended, successfully or not.
func (s AIStreamStatus) Terminal() bool {
	return s != AIStreamStart && s != AIStreamInProgress
}

// MemberChangeType enumerates room membership transitions.
type MemberChangeType int

const (
	MemberJoin   MemberChangeType = 1
	MemberLeave  MemberChangeType = 2
	MemberRemove MemberChangeType = 3 // admin-forced room delete
)

// UserInfo is the sender identity attached to a chat message.
type UserInfo struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickName"`
	Avatar   string `json:"avatar,omitempty"`
	Gender   int    `json:"gender,omitempty"`
}

// MessageBody is the type-specific payload of a message. Cleared on
// recall and delete.
type MessageBody struct {
	ReasoningContent string `json:"reasoningContent,omitempty"`
	ReplyUID         string `json:"replyUid,omitempty"`
	Status           AIStreamStatus `json:"status,omitempty"`
}

// MessageInfo is the message record proper.
type MessageInfo struct {
	ID       int64        `json:"id"`
	RoomID   int64        `json:"roomId"`
	SendTime int64        `json:"sendTime"` // unix milliseconds
	Content  string       `json:"content"`
	Type     MessageType  `json:"type"`
	Body     *MessageBody `json:"body,omitempty"`
}

// ChatMessage is a full inbound or locally synthesized message: sender
// plus record.
type ChatMessage struct {
	FromUser UserInfo    `json:"fromUser"`
	Message  MessageInfo `json:"message"`
}

// MessageForm is a compose-box submission, sent over the HTTP API.
type MessageForm struct {
	RoomID  int64       `json:"roomId"`
	MsgType MessageType `json:"msgType"`
	Content string      `json:"content"`
}

// MsgRecall notifies that a message was recalled by its sender.
type MsgRecall struct {
	RoomID    int64  `json:"roomId"`
	MsgID     int64  `json:"msgId"`
	RecallUID string `json:"recallUid"`
}

// MsgDelete notifies that a message was deleted.
type MsgDelete struct {
	RoomID    int64  `json:"roomId"`
	MsgID     int64  `json:"msgId"`
	DeleteUID string `json:"deleteUid"`
}

// FriendApply notifies of a new friend request.
type FriendApply struct {
	UID      string `json:"uid"`
	Nickname string `json:"nickName"`
	Remark   string `json:"remark,omitempty"`
}

// MemberChange notifies that a room's membership changed.
type MemberChange struct {
	RoomID     int64            `json:"roomId"`
	UID        string           `json:"uid"`
	ChangeType MemberChangeType `json:"changeType"`
}

// OnlineNotice carries presence transitions for contacts.
type OnlineNotice struct {
	ChangeList []struct {
		UserID     string `json:"userId"`
		ActiveType int    `json:"activeType"`
	} `json:"changeList"`
}

// RTCCall carries call signalling. The core only forwards it.
type RTCCall struct {
	RoomID   int64  `json:"roomId"`
	SenderID string `json:"senderId"`
	CallType int    `json:"callType"`
	Signal   string `json:"signal,omitempty"`
}

// PinContact notifies that a conversation's pin state changed.
type PinContact struct {
	RoomID  int64 `json:"roomId"`
	IsPin   int   `json:"isPin"`
	PinTime int64 `json:"pinTime"`
}

// AIStreamChunk is one incremental token push of an AI reply.
type AIStreamChunk struct {
	RoomID           int64          `json:"roomId"`
	MsgID            int64          `json:"msgId"`
	Status           AIStreamStatus `json:"status"`
	Content          string         `json:"content"`
	ReasoningContent string         `json:"reasoningContent,omitempty"`
}

// ContactDetail is the authoritative conversation record fetched from
// the server.
type ContactDetail struct {
	RoomID      int64    `json:"roomId"`
	Name        string   `json:"name"`
	Avatar      string   `json:"avatar,omitempty"`
	Type        RoomType `json:"type"`
	Text        string   `json:"text"`
	UnreadCount int      `json:"unreadCount"`
	ActiveTime  int64    `json:"activeTime"`
	PinTime     int64    `json:"pinTime"`
	LastMsgID   int64    `json:"lastMsgId"`
	SelfExist   bool     `json:"selfExist"`
}

// Member is one entry of a room's member list.
type Member struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickName"`
	Avatar   string `json:"avatar,omitempty"`
}
