package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pigeon/internal/api"
	"pigeon/internal/auth"
	"pigeon/internal/bus"
	"pigeon/internal/wire"
)

// DefaultPassDelay is the pause between consecutive sends. It keeps
// bursts of queued messages arriving at the server in a stable order.
const DefaultPassDelay = 80 * time.Millisecond

// Status is the lifecycle state of a queued send.
type Status int

const (
	StatusPending Status = iota
	StatusSending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSending:
		return "sending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Item is one queued send. Preview is the optimistic local echo built
// at enqueue time; Result is the server's authoritative message, set
// on success.
type Item struct {
	ID         string
	Form       wire.MessageForm
	Status     Status
	RetryCount int
	CreatedAt  time.Time
	Preview    wire.ChatMessage
	Result     *wire.ChatMessage
	FailReason string
}

// Sender submits a composed message to the server. *api.Client
// satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, form wire.MessageForm) (*wire.ChatMessage, error)
}

// Queue serializes outbound sends: strictly one request in flight,
// oldest pending first, with a short pause between passes. Every state
// change is announced on the bus under the "queue." namespace so the
// conversation reducer can mirror the queue into its message lists
// without the two packages calling each other.
type Queue struct {
	sender    Sender
	bus       *bus.Bus
	profile   func() auth.Profile
	passDelay time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	items  []*Item
	lastMS int64

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped queue. profile supplies the identity stamped
// onto optimistic previews.
func New(sender Sender, b *bus.Bus, profile func() auth.Profile, logger *zap.Logger) *Queue {
	return &Queue{
		sender:    sender,
		bus:       b,
		profile:   profile,
		passDelay: DefaultPassDelay,
		logger:    logger.Named("outbox"),
		wake:      make(chan struct{}, 1),
	}
}

// SetPassDelay overrides the inter-send pause. Zero disables it.
func (q *Queue) SetPassDelay(d time.Duration) { q.passDelay = d }

// Start launches the worker goroutine.
func (q *Queue) Start() {
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.done = make(chan struct{})
	go q.run()
}

// Stop terminates the worker. An in-flight request is cancelled.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
}

// Enqueue accepts a compose-box submission and returns the queued item
// immediately, its optimistic preview ready for display. The actual
// send happens on the worker.
func (q *Queue) Enqueue(form wire.MessageForm) Item {
	self := q.profile()
	q.mu.Lock()
	item := &Item{
		ID:        q.nextTempIDLocked(),
		Form:      form,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Preview: wire.ChatMessage{
			FromUser: wire.UserInfo{
				UserID:   self.UserID,
				Nickname: self.Nickname,
				Avatar:   self.Avatar,
			},
			Message: wire.MessageInfo{
				RoomID:   form.RoomID,
				SendTime: time.Now().UnixMilli(),
				Content:  form.Content,
				Type:     form.MsgType,
			},
		},
	}
	q.items = append(q.items, item)
	snapshot := *item
	q.mu.Unlock()

	q.bus.Publish(bus.Event{Kind: bus.KindQueueAdd, Payload: snapshot})
	q.kick()
	return snapshot
}

// Retry re-submits a failed item. The failed entry is dropped and a
// fresh copy with a new id joins the back of the queue; consumers are
// told about the old entry first so they can remove its error echo.
func (q *Queue) Retry(id string) bool {
	q.mu.Lock()
	idx := -1
	for i, it := range q.items {
		if it.ID == id && it.Status == StatusError {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	old := *q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	fresh := &Item{
		ID:         q.nextTempIDLocked(),
		Form:       old.Form,
		Status:     StatusPending,
		RetryCount: old.RetryCount + 1,
		CreatedAt:  time.Now(),
		Preview:    old.Preview,
	}
	fresh.Preview.Message.SendTime = time.Now().UnixMilli()
	q.items = append(q.items, fresh)
	snapshot := *fresh
	q.mu.Unlock()

	q.bus.Publish(bus.Event{Kind: bus.KindQueueRetry, Payload: old})
	q.bus.Publish(bus.Event{Kind: bus.KindQueueAdd, Payload: snapshot})
	q.kick()
	return true
}

// Clear discards every queued item, failed ones included.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
	q.bus.Publish(bus.Event{Kind: bus.KindQueueClear})
}

// Items returns a snapshot of the queue, enqueue order preserved.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	return out
}

// Get returns the item with the given id, if still queued.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.ID == id {
			return *it, true
		}
	}
	return Item{}, false
}

// nextTempIDLocked mints a temp_<unix-millis> id, nudging the clock
// forward when two enqueues land in the same millisecond.
func (q *Queue) nextTempIDLocked() string {
	ms := time.Now().UnixMilli()
	if ms <= q.lastMS {
		ms = q.lastMS + 1
	}
	q.lastMS = ms
	return fmt.Sprintf("temp_%d", ms)
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}
		for {
			item := q.claimNext()
			if item == nil {
				break
			}
			q.send(item)
			if q.passDelay > 0 {
				select {
				case <-q.ctx.Done():
					return
				case <-time.After(q.passDelay):
				}
			}
		}
	}
}

// claimNext marks the oldest pending item as Sending and returns it.
func (q *Queue) claimNext() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Status == StatusPending {
			it.Status = StatusSending
			snapshot := *it
			q.bus.Publish(bus.Event{Kind: bus.KindQueueProcessing, Payload: snapshot})
			return it
		}
	}
	return nil
}

func (q *Queue) send(item *Item) {
	msg, err := q.sender.SendMessage(q.ctx, item.Form)
	if err != nil {
		// Rejections and transport failures both park the item in
		// Error; the user decides whether to retry.
		reason := err.Error()
		if api.IsNotFriends(err) {
			reason = api.NotFriendsMessage
		}
		q.logger.Warn("send failed",
			zap.String("id", item.ID),
			zap.Int64("room", item.Form.RoomID),
			zap.Error(err))
		q.mu.Lock()
		item.Status = StatusError
		item.FailReason = reason
		snapshot := *item
		q.mu.Unlock()
		q.bus.Publish(bus.Event{Kind: bus.KindQueueError, Payload: snapshot})
		return
	}

	q.mu.Lock()
	item.Status = StatusSuccess
	item.Result = msg
	snapshot := *item
	for i, it := range q.items {
		if it == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	q.bus.Publish(bus.Event{Kind: bus.KindQueueSuccess, Payload: snapshot})
}
