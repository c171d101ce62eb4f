package router

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"pigeon/internal/bus"
	"pigeon/internal/wire"
)

type fakeGuard struct {
	expired atomic.Int32
}

func (g *fakeGuard) Expire(string) { g.expired.Add(1) }

func newTestRouter(t *testing.T, selfID string) (*Router, *Inbox, *bus.Bus, *fakeGuard) {
	t.Helper()
	inbox := NewInbox()
	b := bus.New()
	guard := &fakeGuard{}
	r := New(inbox, b, guard, func() string { return selfID }, zap.NewNop())
	return r, inbox, b, guard
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan bus.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %s", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func pushFrame(kind wire.MsgKind, body string) []byte {
	return []byte(fmt.Sprintf(`{"code":200,"data":{"type":%d,"data":%s}}`, kind, body))
}

func TestHandleFrameMessage(t *testing.T) {
	r, inbox, b, _ := newTestRouter(t, "me")
	pushCh, unsub := b.Subscribe(bus.KindPushMessage, 4)
	defer unsub()
	notifyCh, unsubN := b.Subscribe("notify.", 4)
	defer unsubN()

	r.HandleFrame(pushFrame(wire.KindMessage,
		`{"fromUser":{"userId":"them"},"message":{"id":7,"roomId":3,"content":"hi"}}`))

	evt := waitEvent(t, pushCh)
	msg, ok := evt.Payload.(wire.ChatMessage)
	if !ok {
		t.Fatalf("payload type %T", evt.Payload)
	}
	if msg.Message.ID != 7 || msg.FromUser.UserID != "them" {
		t.Fatalf("unexpected payload %+v", msg)
	}

	// Arrival from another account should also raise a notification.
	nEvt := waitEvent(t, notifyCh)
	if nEvt.Kind != bus.KindNotifyMessage {
		t.Fatalf("expected notify.message, got %s", nEvt.Kind)
	}

	if got := inbox.DrainMessages(); len(got) != 1 || got[0].Message.RoomID != 3 {
		t.Fatalf("inbox drain returned %+v", got)
	}
}

func TestHandleFrameOwnMessageNotNotified(t *testing.T) {
	r, _, b, _ := newTestRouter(t, "me")
	notifyCh, unsub := b.Subscribe("notify.", 4)
	defer unsub()

	r.HandleFrame(pushFrame(wire.KindMessage,
		`{"fromUser":{"userId":"me"},"message":{"id":1,"roomId":3}}`))

	assertNoEvent(t, notifyCh)
}

func TestHandleFrameMalformedDropped(t *testing.T) {
	r, inbox, b, guard := newTestRouter(t, "me")
	ch, unsub := b.Subscribe("push.", 4)
	defer unsub()

	r.HandleFrame([]byte(`{not json`))
	r.HandleFrame([]byte(`{"code":200}`))
	r.HandleFrame(pushFrame(wire.KindRecall, `"not an object"`))

	assertNoEvent(t, ch)
	if guard.expired.Load() != 0 {
		t.Fatal("guard should not fire for malformed frames")
	}
	for name, n := range inbox.Sizes() {
		if n != 0 {
			t.Fatalf("bucket %s not empty", name)
		}
	}
}

func TestHandleFrameTokenError(t *testing.T) {
	r, _, b, guard := newTestRouter(t, "me")
	ch, unsub := b.Subscribe("push.", 4)
	defer unsub()

	r.HandleFrame([]byte(`{"code":40002,"message":"token expired"}`))

	if guard.expired.Load() != 1 {
		t.Fatalf("guard fired %d times, want 1", guard.expired.Load())
	}
	assertNoEvent(t, ch)
}

func TestHandleFrameTokenExpiredPush(t *testing.T) {
	r, _, _, guard := newTestRouter(t, "me")

	r.HandleFrame(pushFrame(wire.KindTokenExpired, `{}`))

	if guard.expired.Load() != 1 {
		t.Fatalf("guard fired %d times, want 1", guard.expired.Load())
	}
}

func TestHandleFrameUnknownKindBuffered(t *testing.T) {
	r, inbox, b, _ := newTestRouter(t, "me")
	ch, unsub := b.Subscribe("push.", 4)
	defer unsub()

	r.HandleFrame(pushFrame(wire.MsgKind(99), `{"whatever":true}`))

	assertNoEvent(t, ch)
	if inbox.Sizes()["other"] != 1 {
		t.Fatal("unknown frame should land in the other bucket")
	}
}

func TestDrainRecallKeepsUnrelated(t *testing.T) {
	r, inbox, _, _ := newTestRouter(t, "me")

	r.HandleFrame(pushFrame(wire.KindRecall, `{"roomId":1,"msgId":10,"recallUid":"a"}`))
	r.HandleFrame(pushFrame(wire.KindRecall, `{"roomId":1,"msgId":11,"recallUid":"a"}`))

	inbox.DrainRecall(10)
	if inbox.Sizes()["recall"] != 1 {
		t.Fatalf("recall bucket depth %d, want 1", inbox.Sizes()["recall"])
	}
}

func TestDrainMessagesForRoom(t *testing.T) {
	r, inbox, _, _ := newTestRouter(t, "me")

	r.HandleFrame(pushFrame(wire.KindMessage, `{"fromUser":{"userId":"a"},"message":{"id":1,"roomId":1}}`))
	r.HandleFrame(pushFrame(wire.KindMessage, `{"fromUser":{"userId":"a"},"message":{"id":2,"roomId":2}}`))
	r.HandleFrame(pushFrame(wire.KindMessage, `{"fromUser":{"userId":"a"},"message":{"id":3,"roomId":1}}`))

	inbox.DrainMessagesForRoom(1)
	left := inbox.DrainMessages()
	if len(left) != 1 || left[0].Message.RoomID != 2 {
		t.Fatalf("unexpected remainder %+v", left)
	}
}

func TestMemberChangeBuffered(t *testing.T) {
	r, inbox, b, _ := newTestRouter(t, "me")
	ch, unsub := b.Subscribe(bus.KindPushMember, 4)
	defer unsub()

	r.HandleFrame(pushFrame(wire.KindMemberChange, `{"roomId":5,"uid":"x","changeType":1}`))
	r.HandleFrame(pushFrame(wire.KindMemberChange, `{"roomId":5,"uid":"y","changeType":2}`))

	waitEvent(t, ch)
	waitEvent(t, ch)
	batch := inbox.DrainMembers()
	if len(batch) != 2 || batch[0].UID != "x" || batch[1].UID != "y" {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if len(inbox.DrainMembers()) != 0 {
		t.Fatal("drain should empty the bucket")
	}
}
