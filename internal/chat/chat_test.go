package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"pigeon/internal/auth"
	"pigeon/internal/bus"
	"pigeon/internal/outbox"
	"pigeon/internal/router"
	"pigeon/internal/wire"
)

type fakeFetcher struct {
	mu          sync.Mutex
	details     map[int64]wire.ContactDetail
	detailCalls []int64
	readCalls   []int64
	members     map[int64][]wire.Member
}

func (f *fakeFetcher) ContactDetail(_ context.Context, roomID int64) (*wire.ContactDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls = append(f.detailCalls, roomID)
	d, ok := f.details[roomID]
	if !ok {
		d = wire.ContactDetail{RoomID: roomID, Name: "fetched", SelfExist: true}
	}
	return &d, nil
}

func (f *fakeFetcher) RoomMembers(_ context.Context, roomID int64) ([]wire.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[roomID], nil
}

func (f *fakeFetcher) MarkRead(_ context.Context, roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, roomID)
	return nil
}

func (f *fakeFetcher) detailCallCount(roomID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.detailCalls {
		if id == roomID {
			n++
		}
	}
	return n
}

type fakePersister struct {
	mu       sync.Mutex
	contacts map[int64]wire.ContactDetail
	messages map[int64][]wire.ChatMessage
	deleted  []int64
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		contacts: make(map[int64]wire.ContactDetail),
		messages: make(map[int64][]wire.ChatMessage),
	}
}

func (p *fakePersister) UpsertContact(c *wire.ContactDetail) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contacts[c.RoomID] = *c
	return nil
}

func (p *fakePersister) DeleteContact(roomID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.contacts, roomID)
	p.deleted = append(p.deleted, roomID)
	return nil
}

func (p *fakePersister) UpsertMessage(m *wire.ChatMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[m.Message.RoomID] = append(p.messages[m.Message.RoomID], *m)
	return nil
}

func (p *fakePersister) DeleteMessage(roomID, msgID int64) error { return nil }

func (p *fakePersister) ListMessages(roomID, beforeTime int64, limit int) ([]wire.ChatMessage, error) {
	return nil, nil
}

func (p *fakePersister) ListContacts() ([]wire.ContactDetail, error) { return nil, nil }

type fakeStreamer struct {
	mu     sync.Mutex
	chunks []wire.AIStreamChunk
	active []bool
}

func (f *fakeStreamer) Ingest(chunk wire.AIStreamChunk, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
	f.active = append(f.active, active)
}

func (f *fakeStreamer) Cancel(roomID, msgID int64) {}

func newTestService(t *testing.T) (*Service, *router.Inbox, *fakeFetcher, *fakePersister) {
	t.Helper()
	inbox := router.NewInbox()
	b := bus.New()
	fetcher := &fakeFetcher{details: make(map[int64]wire.ContactDetail), members: make(map[int64][]wire.Member)}
	db := newFakePersister()
	s := New(inbox, b, fetcher, db, func() auth.Profile {
		return auth.Profile{UserID: "me", Nickname: "Me"}
	}, zap.NewNop())
	return s, inbox, fetcher, db
}

func seedContact(s *Service, roomID int64, roomType wire.RoomType, pagedIn bool) {
	s.mu.Lock()
	s.contacts[roomID] = &Contact{
		ContactDetail: wire.ContactDetail{RoomID: roomID, Type: roomType, SelfExist: true},
		PagedIn:       pagedIn,
	}
	s.mu.Unlock()
}

func msgFrom(uid, nick string, roomID, id, sendTime int64, content string) wire.ChatMessage {
	return wire.ChatMessage{
		FromUser: wire.UserInfo{UserID: uid, Nickname: nick},
		Message: wire.MessageInfo{
			ID: id, RoomID: roomID, SendTime: sendTime,
			Content: content, Type: wire.MsgTypeText,
		},
	}
}

func TestNewMessageOrdering(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 1, wire.RoomGroup, true)

	// Out-of-order arrival: (time 200, id 3) lands before (time 100, id 2).
	inbox.AddMessage(msgFrom("u1", "One", 1, 3, 200, "late"))
	inbox.AddMessage(msgFrom("u1", "One", 1, 2, 100, "early"))
	inbox.AddMessage(msgFrom("u1", "One", 1, 4, 200, "tie-breaker"))
	s.reduceNewMessages()

	msgs := s.Messages(1)
	var prevTime, prevID int64 = -1, -1
	seen := map[int64]bool{}
	for _, e := range msgs {
		if seen[e.Message.ID] {
			t.Fatalf("duplicate id %d", e.Message.ID)
		}
		seen[e.Message.ID] = true
		if e.Message.SendTime < prevTime ||
			(e.Message.SendTime == prevTime && e.Message.ID < prevID) {
			t.Fatalf("unsorted list: %+v", msgs)
		}
		prevTime, prevID = e.Message.SendTime, e.Message.ID
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
}

func TestNewMessageDeduplicates(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 1, wire.RoomSelf, true)

	inbox.AddMessage(msgFrom("u1", "One", 1, 5, 100, "hello"))
	s.reduceNewMessages()
	inbox.AddMessage(msgFrom("u1", "One", 1, 5, 100, "hello"))
	s.reduceNewMessages()

	if msgs := s.Messages(1); len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestUnreadSelfExclusion(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 1, wire.RoomSelf, true)

	inbox.AddMessage(msgFrom("me", "Me", 1, 1, 100, "mine"))
	s.reduceNewMessages()
	c, _ := s.Contact(1)
	if c.UnreadCount != 0 {
		t.Fatalf("own message incremented unread to %d", c.UnreadCount)
	}

	inbox.AddMessage(msgFrom("u1", "One", 1, 2, 200, "theirs"))
	s.reduceNewMessages()
	c, _ = s.Contact(1)
	if c.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", c.UnreadCount)
	}
}

func TestActiveRoomMarkedReadInsteadOfUnread(t *testing.T) {
	s, inbox, fetcher, _ := newTestService(t)
	seedContact(s, 1, wire.RoomSelf, true)
	s.SetActiveRoom(1)

	inbox.AddMessage(msgFrom("u1", "One", 1, 2, 200, "theirs"))
	s.reduceNewMessages()

	c, _ := s.Contact(1)
	if c.UnreadCount != 0 {
		t.Fatalf("active room unread = %d, want 0", c.UnreadCount)
	}
	// The debounced receipt eventually reaches the server.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fetcher.mu.Lock()
		n := len(fetcher.readCalls)
		fetcher.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("mark-read never reached the server")
}

func TestNotPagedInSkipsList(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 1, wire.RoomSelf, false)

	inbox.AddMessage(msgFrom("u1", "One", 1, 2, 200, "hi"))
	s.reduceNewMessages()

	if msgs := s.Messages(1); len(msgs) != 0 {
		t.Fatalf("message appended into un-paged list: %+v", msgs)
	}
	c, _ := s.Contact(1)
	if c.Text != "hi" || c.UnreadCount != 1 {
		t.Fatalf("summary not updated: %+v", c.ContactDetail)
	}
	if inbox.Sizes()["newMsg"] != 0 {
		t.Fatal("inbox must be drained even when no list matched")
	}
}

func TestGroupSummaryPrefixedWithNickname(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 1, wire.RoomGroup, false)

	inbox.AddMessage(msgFrom("u1", "One", 1, 2, 200, "hi"))
	s.reduceNewMessages()

	c, _ := s.Contact(1)
	if c.Text != "One: hi" {
		t.Fatalf("summary %q, want \"One: hi\"", c.Text)
	}
}

func TestRecallRewritesMessage(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 5, wire.RoomGroup, true)
	inbox.AddMessage(msgFrom("U1", "U1", 5, 42, 100, "hello"))
	s.reduceNewMessages()

	inbox.AddRecall(wire.MsgRecall{RoomID: 5, MsgID: 42, RecallUID: "U1"})
	s.reduceRecall(wire.MsgRecall{RoomID: 5, MsgID: 42, RecallUID: "U1"})

	msgs := s.Messages(5)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	got := msgs[0]
	if got.Message.Content != "\"U1\"撤回了一条消息" {
		t.Fatalf("content %q", got.Message.Content)
	}
	if got.Message.Type != wire.MsgTypeRecall || got.Message.Body != nil {
		t.Fatalf("type/body not rewritten: %+v", got.Message)
	}
	if inbox.Sizes()["recall"] != 0 {
		t.Fatal("recall entry not drained")
	}
	// The recalled message was the latest, so the summary follows.
	c, _ := s.Contact(5)
	if c.Text != "\"U1\"撤回了一条消息" {
		t.Fatalf("summary %q", c.Text)
	}
}

func TestRecallIdempotent(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 5, wire.RoomSelf, true)
	inbox.AddMessage(msgFrom("U1", "U1", 5, 42, 100, "hello"))
	s.reduceNewMessages()

	r := wire.MsgRecall{RoomID: 5, MsgID: 42, RecallUID: "U1"}
	s.reduceRecall(r)
	first := s.Messages(5)[0]
	s.reduceRecall(r)
	second := s.Messages(5)[0]

	if first.Message.Content != second.Message.Content ||
		first.Message.Type != second.Message.Type ||
		second.Message.Body != nil {
		t.Fatalf("recall not idempotent: %+v vs %+v", first.Message, second.Message)
	}
}

func TestRecallDrainsOnlyMatchingID(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 5, wire.RoomSelf, true)

	inbox.AddRecall(wire.MsgRecall{RoomID: 5, MsgID: 42})
	inbox.AddRecall(wire.MsgRecall{RoomID: 5, MsgID: 43})
	s.reduceRecall(wire.MsgRecall{RoomID: 5, MsgID: 42})

	if inbox.Sizes()["recall"] != 1 {
		t.Fatalf("recall bucket depth %d, want 1", inbox.Sizes()["recall"])
	}
}

func TestDeleteUsesDeleterPhrasing(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 5, wire.RoomGroup, true)
	s.mu.Lock()
	s.members[5] = []wire.Member{{UserID: "admin", Nickname: "Admin"}}
	s.mu.Unlock()
	inbox.AddMessage(msgFrom("U1", "U1", 5, 42, 100, "hello"))
	s.reduceNewMessages()

	s.reduceDelete(wire.MsgDelete{RoomID: 5, MsgID: 42, DeleteUID: "admin"})

	got := s.Messages(5)[0]
	if got.Message.Content != "\"Admin\"删除了一条消息" {
		t.Fatalf("content %q", got.Message.Content)
	}
	if got.Message.Type != wire.MsgTypeDelete {
		t.Fatalf("type %d", got.Message.Type)
	}
}

func TestPinInactiveRoomTriggersSingleRefetch(t *testing.T) {
	s, inbox, fetcher, _ := newTestService(t)
	seedContact(s, 9, wire.RoomSelf, false)
	s.SetActiveRoom(1)

	inbox.AddPin(wire.PinContact{RoomID: 9, IsPin: 1, PinTime: 777})
	s.reducePins()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && fetcher.detailCallCount(9) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if n := fetcher.detailCallCount(9); n != 1 {
		t.Fatalf("refetch count %d, want 1", n)
	}
	c, _ := s.Contact(9)
	if c.PinTime == 777 {
		t.Fatal("pinTime was patched locally instead of refetched")
	}
}

func TestPinActiveRoomPatchedLocally(t *testing.T) {
	s, inbox, fetcher, _ := newTestService(t)
	seedContact(s, 9, wire.RoomSelf, false)
	s.SetActiveRoom(9)

	inbox.AddPin(wire.PinContact{RoomID: 9, IsPin: 1, PinTime: 777})
	s.reducePins()

	c, _ := s.Contact(9)
	if c.PinTime != 777 {
		t.Fatalf("pinTime %d, want 777", c.PinTime)
	}
	if n := fetcher.detailCallCount(9); n != 0 {
		t.Fatalf("unexpected refetch (%d calls)", n)
	}
}

func TestFindMsgMemoizedAndInvalidated(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 5, wire.RoomSelf, true)
	inbox.AddMessage(msgFrom("U1", "U1", 5, 42, 100, "hello"))
	s.reduceNewMessages()

	m, ok := s.FindMsg(5, 42)
	if !ok || m.Message.Content != "hello" {
		t.Fatalf("find failed: %+v ok=%v", m, ok)
	}

	s.reduceRecall(wire.MsgRecall{RoomID: 5, MsgID: 42})
	m, ok = s.FindMsg(5, 42)
	if !ok || m.Message.Content == "hello" {
		t.Fatalf("cache served stale content after recall: %+v", m)
	}
}

func TestQueueLifecycleMirrored(t *testing.T) {
	s, _, _, db := newTestService(t)
	seedContact(s, 3, wire.RoomSelf, true)

	preview := msgFrom("me", "Me", 3, 0, 100, "hi there")
	item := outbox.Item{
		ID: "temp_1", Form: wire.MessageForm{RoomID: 3, Content: "hi there"},
		Status: outbox.StatusPending, Preview: preview,
	}
	s.handleQueue(bus.Event{Kind: bus.KindQueueAdd, Payload: item})

	msgs := s.Messages(3)
	if len(msgs) != 1 || msgs[0].QueueID != "temp_1" {
		t.Fatalf("echo not appended: %+v", msgs)
	}

	item.Status = outbox.StatusSuccess
	real := msgFrom("me", "Me", 3, 88, 150, "hi there")
	item.Result = &real
	s.handleQueue(bus.Event{Kind: bus.KindQueueSuccess, Payload: item})

	msgs = s.Messages(3)
	if len(msgs) != 1 || msgs[0].QueueID != "" || msgs[0].Message.ID != 88 {
		t.Fatalf("echo not replaced by server record: %+v", msgs)
	}
	c, _ := s.Contact(3)
	if c.LastMsgID != 88 {
		t.Fatalf("lastMsgId %d, want 88", c.LastMsgID)
	}
	db.mu.Lock()
	persisted := len(db.messages[3])
	db.mu.Unlock()
	if persisted != 1 {
		t.Fatalf("persisted %d messages, want 1", persisted)
	}
}

func TestQueueErrorThenRetryRemovesEcho(t *testing.T) {
	s, _, _, _ := newTestService(t)
	seedContact(s, 3, wire.RoomSelf, true)

	item := outbox.Item{
		ID: "temp_2", Form: wire.MessageForm{RoomID: 3, Content: "x"},
		Status: outbox.StatusPending, Preview: msgFrom("me", "Me", 3, 0, 100, "x"),
	}
	s.handleQueue(bus.Event{Kind: bus.KindQueueAdd, Payload: item})

	item.Status = outbox.StatusError
	item.FailReason = "您和对方已不是好友！"
	s.handleQueue(bus.Event{Kind: bus.KindQueueError, Payload: item})

	msgs := s.Messages(3)
	if msgs[0].QueueStatus != outbox.StatusError || msgs[0].FailReason == "" {
		t.Fatalf("error state not mirrored: %+v", msgs[0])
	}

	s.handleQueue(bus.Event{Kind: bus.KindQueueRetry, Payload: item})
	if msgs := s.Messages(3); len(msgs) != 0 {
		t.Fatalf("failed echo not removed on retry: %+v", msgs)
	}
}

func TestMemberLeaveSelfKeepsConversation(t *testing.T) {
	s, _, _, _ := newTestService(t)
	seedContact(s, 7, wire.RoomGroup, false)

	s.memberLeave(wire.MemberChange{RoomID: 7, UID: "me", ChangeType: wire.MemberLeave}, "me")

	c, ok := s.Contact(7)
	if !ok {
		t.Fatal("conversation removed on own leave")
	}
	if c.SelfExist {
		t.Fatal("selfExist still true after leaving")
	}
}

func TestMemberLeaveOtherSplicesCache(t *testing.T) {
	s, _, _, _ := newTestService(t)
	seedContact(s, 7, wire.RoomGroup, false)
	s.mu.Lock()
	s.members[7] = []wire.Member{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}}
	s.mu.Unlock()

	s.memberLeave(wire.MemberChange{RoomID: 7, UID: "b", ChangeType: wire.MemberLeave}, "me")

	got := s.Members(7)
	if len(got) != 2 || got[0].UserID != "a" || got[1].UserID != "c" {
		t.Fatalf("unexpected members %+v", got)
	}
}

func TestMemberRemoveDropsConversation(t *testing.T) {
	s, _, _, db := newTestService(t)
	seedContact(s, 7, wire.RoomGroup, true)
	s.mu.Lock()
	s.members[7] = []wire.Member{{UserID: "a"}}
	s.mu.Unlock()

	s.memberRemove(wire.MemberChange{RoomID: 7, ChangeType: wire.MemberRemove})

	if _, ok := s.Contact(7); ok {
		t.Fatal("conversation survived forced removal")
	}
	if len(s.Members(7)) != 0 {
		t.Fatal("member cache survived forced removal")
	}
	db.mu.Lock()
	deleted := len(db.deleted)
	db.mu.Unlock()
	if deleted != 1 {
		t.Fatal("store row not deleted")
	}
}

func TestMemberJoinUnknownRoomFetchesAfterDelay(t *testing.T) {
	s, _, fetcher, _ := newTestService(t)
	fetcher.details[11] = wire.ContactDetail{RoomID: 11, Name: "new room", SelfExist: true}

	s.memberJoin(wire.MemberChange{RoomID: 11, UID: "me", ChangeType: wire.MemberJoin})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, ok := s.Contact(11); ok {
			if c.Name != "new room" || c.UnreadCount != 1 {
				t.Fatalf("invited room state %+v", c.ContactDetail)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("invited room never materialized")
}

func TestMemberJoinKnownRoomRequestsReload(t *testing.T) {
	s, _, _, _ := newTestService(t)
	seedContact(s, 7, wire.RoomGroup, false)
	ch, unsub := s.bus.Subscribe(bus.KindChatReloadMember, 4)
	defer unsub()

	s.memberJoin(wire.MemberChange{RoomID: 7, UID: "new-user", ChangeType: wire.MemberJoin})

	select {
	case evt := <-ch:
		if evt.Payload.(int64) != 7 {
			t.Fatalf("reload for wrong room %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no member reload requested")
	}
}

func TestAIStreamDelegatedWithActivity(t *testing.T) {
	s, _, _, _ := newTestService(t)
	st := &fakeStreamer{}
	s.SetStreamer(st)
	seedContact(s, 4, wire.RoomSelf, true)
	s.SetActiveRoom(4)

	s.reduceAIStream(wire.AIStreamChunk{RoomID: 4, MsgID: 9, Status: wire.AIStreamStart})
	s.reduceAIStream(wire.AIStreamChunk{RoomID: 2, MsgID: 9, Status: wire.AIStreamStart})

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.chunks) != 2 || !st.active[0] || st.active[1] {
		t.Fatalf("activity flags %v", st.active)
	}
}

func TestApplyAIStreamUpdatesMessage(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 4, wire.RoomSelf, true)
	reply := msgFrom("ai", "AI", 4, 9, 100, "")
	reply.Message.Type = wire.MsgTypeAIReply
	inbox.AddMessage(reply)
	s.reduceNewMessages()

	s.ApplyAIStream(4, 9, "Hel", "thinking", wire.AIStreamInProgress)
	got := s.Messages(4)[0]
	if got.Message.Content != "Hel" || got.Message.Body.ReasoningContent != "thinking" {
		t.Fatalf("partial apply %+v", got.Message)
	}

	s.ApplyAIStream(4, 9, "Hello", "", wire.AIStreamDone)
	got = s.Messages(4)[0]
	if got.Message.Content != "Hello" || got.Message.Body.Status != wire.AIStreamDone {
		t.Fatalf("final apply %+v", got.Message)
	}
	c, _ := s.Contact(4)
	if c.Text != "Hello" {
		t.Fatalf("summary %q", c.Text)
	}
}

func TestContactCacheServedWithinTTL(t *testing.T) {
	s, _, fetcher, _ := newTestService(t)

	if _, err := s.RefreshContact(context.Background(), 6); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RefreshContact(context.Background(), 6); err != nil {
		t.Fatal(err)
	}
	if n := fetcher.detailCallCount(6); n != 1 {
		t.Fatalf("fetch count %d, want 1 (second call should hit cache)", n)
	}
}

func TestFriendAppliesCountedAndDrained(t *testing.T) {
	s, inbox, _, _ := newTestService(t)

	inbox.AddApply(wire.FriendApply{UID: "u9", Nickname: "New"})
	s.handlePush(bus.Event{Kind: bus.KindPushApply})
	inbox.AddApply(wire.FriendApply{UID: "u10"})
	s.handlePush(bus.Event{Kind: bus.KindPushApply})

	if n := s.ApplyUnread(); n != 2 {
		t.Fatalf("apply unread %d, want 2", n)
	}
	applies := s.TakeApplies()
	if len(applies) != 2 || applies[0].UID != "u9" {
		t.Fatalf("drained %+v", applies)
	}
	if n := s.ApplyUnread(); n != 0 {
		t.Fatalf("counter not reset, got %d", n)
	}
}

func TestRecallBySelfUsesFirstPerson(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 5, wire.RoomSelf, true)
	inbox.AddMessage(msgFrom("me", "Me", 5, 42, 100, "typo"))
	s.reduceNewMessages()

	s.reduceRecall(wire.MsgRecall{RoomID: 5, MsgID: 42, RecallUID: "me"})

	if got := s.Messages(5)[0].Message.Content; got != "我撤回了一条消息" {
		t.Fatalf("content %q", got)
	}
	c, _ := s.Contact(5)
	if c.Text != "我撤回了一条消息" {
		t.Fatalf("summary %q", c.Text)
	}
}

func TestDeleteBySelfUsesFirstPerson(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 5, wire.RoomGroup, true)
	inbox.AddMessage(msgFrom("U1", "U1", 5, 42, 100, "hello"))
	s.reduceNewMessages()

	s.reduceDelete(wire.MsgDelete{RoomID: 5, MsgID: 42, DeleteUID: "me"})

	if got := s.Messages(5)[0].Message.Content; got != "我删除了一条消息" {
		t.Fatalf("content %q", got)
	}
}

func TestAIReplyPlaceholderByRoomType(t *testing.T) {
	s, inbox, _, _ := newTestService(t)
	seedContact(s, 7, wire.RoomGroup, true)
	seedContact(s, 8, wire.RoomSelf, true)

	groupMsg := msgFrom("bot", "小助手", 7, 50, 100, "")
	groupMsg.Message.Type = wire.MsgTypeAIReply
	inbox.AddMessage(groupMsg)
	directMsg := msgFrom("bot", "小助手", 8, 51, 100, "")
	directMsg.Message.Type = wire.MsgTypeAIReply
	inbox.AddMessage(directMsg)
	s.reduceNewMessages()

	s.reduceAIStream(wire.AIStreamChunk{RoomID: 7, MsgID: 50, Status: wire.AIStreamStart})
	s.reduceAIStream(wire.AIStreamChunk{RoomID: 8, MsgID: 51, Status: wire.AIStreamStart})

	if c, _ := s.Contact(7); c.Text != "小助手: 回答中..." {
		t.Fatalf("group placeholder %q", c.Text)
	}
	if c, _ := s.Contact(8); c.Text != "AI回答中..." {
		t.Fatalf("direct placeholder %q", c.Text)
	}
}
