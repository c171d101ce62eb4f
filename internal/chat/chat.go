// Package chat is the consistency point of the client: it applies
// every inbound push kind and every send-queue transition to the
// per-conversation state (message lists, unread counts, summaries,
// member caches). All of that state has exactly one writer, the
// reducer goroutine started by Run.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pigeon/internal/auth"
	"pigeon/internal/bus"
	"pigeon/internal/outbox"
	"pigeon/internal/router"
	"pigeon/internal/wire"
)

const (
	// contactCacheTTL bounds how long a fetched conversation detail is
	// served without hitting the server again.
	contactCacheTTL = 5 * time.Minute

	// memberDebounce batches bursts of member-change pushes into one
	// reconciliation pass.
	memberDebounce = time.Second

	// joinPropagationDelay gives the server time to materialize a new
	// room before we fetch its detail.
	joinPropagationDelay = 300 * time.Millisecond

	// markReadDebounce coalesces read receipts while messages keep
	// arriving in the open conversation.
	markReadDebounce = 300 * time.Millisecond
)

// Fetcher is the server-side collaborator for authoritative state the
// reducer does not have cached. *api.Client satisfies it.
type Fetcher interface {
	ContactDetail(ctx context.Context, roomID int64) (*wire.ContactDetail, error)
	RoomMembers(ctx context.Context, roomID int64) ([]wire.Member, error)
	MarkRead(ctx context.Context, roomID int64) error
}

// Persister is the local durability collaborator. *store.DB satisfies
// it.
type Persister interface {
	UpsertContact(*wire.ContactDetail) error
	DeleteContact(roomID int64) error
	UpsertMessage(*wire.ChatMessage) error
	DeleteMessage(roomID, msgID int64) error
	ListMessages(roomID, beforeTime int64, limit int) ([]wire.ChatMessage, error)
	ListContacts() ([]wire.ContactDetail, error)
}

// Streamer assembles incremental AI reply pushes. *stream.Assembler
// satisfies it.
type Streamer interface {
	Ingest(chunk wire.AIStreamChunk, active bool)
	Cancel(roomID, msgID int64)
}

// Entry is one rendered message-list row: either a server message or a
// still-queued local echo (QueueID set).
type Entry struct {
	wire.ChatMessage
	QueueID     string
	QueueStatus outbox.Status
	FailReason  string
}

// Contact is one tracked conversation with its paged-in message list.
type Contact struct {
	wire.ContactDetail
	Msgs     []Entry
	PagedIn  bool
	SaveTime time.Time
}

// Service owns all conversation state.
type Service struct {
	inbox    *router.Inbox
	bus      *bus.Bus
	fetcher  Fetcher
	db       Persister
	streamer Streamer
	profile  func() auth.Profile
	logger   *zap.Logger

	mu       sync.Mutex
	contacts map[int64]*Contact
	members  map[int64][]wire.Member
	active   int64

	// found memoizes message lookups by "roomId_msgId"; never
	// authoritative, invalidated on every mutation of its target.
	found  geche.Geche[string, wire.ChatMessage]
	flight singleflight.Group

	memberBuf   []wire.MemberChange
	memberTimer *time.Timer
	readTimers  map[int64]*time.Timer

	applyUnread int

	runCtx context.Context
}

// New creates the reducer. streamer may be set later via SetStreamer
// because the assembler needs the reducer as its applier.
func New(inbox *router.Inbox, b *bus.Bus, fetcher Fetcher, db Persister, profile func() auth.Profile, logger *zap.Logger) *Service {
	return &Service{
		inbox:      inbox,
		bus:        b,
		fetcher:    fetcher,
		db:         db,
		profile:    profile,
		logger:     logger.Named("chat"),
		contacts:   make(map[int64]*Contact),
		members:    make(map[int64][]wire.Member),
		found:      geche.NewMapCache[string, wire.ChatMessage](),
		readTimers: make(map[int64]*time.Timer),
	}
}

// SetStreamer wires the reply assembler in.
func (s *Service) SetStreamer(st Streamer) { s.streamer = st }

// Run consumes push and queue events until ctx is cancelled. It is the
// single writer for all conversation state.
func (s *Service) Run(ctx context.Context) {
	s.runCtx = ctx
	pushCh, unsubPush := s.bus.Subscribe("push.", 256)
	defer unsubPush()
	queueCh, unsubQueue := s.bus.Subscribe("queue.", 256)
	defer unsubQueue()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-pushCh:
			s.handlePush(evt)
		case evt := <-queueCh:
			s.handleQueue(evt)
		}
	}
}

func (s *Service) handlePush(evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushMessage:
		s.reduceNewMessages()
	case bus.KindPushRecall:
		if m, ok := evt.Payload.(wire.MsgRecall); ok {
			s.reduceRecall(m)
		}
	case bus.KindPushDelete:
		if m, ok := evt.Payload.(wire.MsgDelete); ok {
			s.reduceDelete(m)
		}
	case bus.KindPushPin:
		s.reducePins()
	case bus.KindPushMember:
		if m, ok := evt.Payload.(wire.MemberChange); ok {
			s.bufferMemberChange(m)
		}
	case bus.KindPushApply:
		s.mu.Lock()
		s.applyUnread++
		s.mu.Unlock()
	case bus.KindPushAIStream:
		if c, ok := evt.Payload.(wire.AIStreamChunk); ok {
			s.reduceAIStream(c)
		}
	}
}

// ApplyUnread reports the number of friend applies received since the
// last call to TakeApplies.
func (s *Service) ApplyUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyUnread
}

// TakeApplies drains the buffered friend applies and resets the unread
// counter.
func (s *Service) TakeApplies() []wire.FriendApply {
	s.mu.Lock()
	s.applyUnread = 0
	s.mu.Unlock()
	return s.inbox.DrainApply()
}

// LoadContacts primes the in-memory contact map from local storage.
func (s *Service) LoadContacts() error {
	list, err := s.db.ListContacts()
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range list {
		c := c
		if _, ok := s.contacts[c.RoomID]; !ok {
			s.contacts[c.RoomID] = &Contact{ContactDetail: c}
		}
	}
	return nil
}

// Contacts returns a snapshot sorted pinned-first, then by activity.
func (s *Service) Contacts() []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, s.snapshotLocked(c))
	}
	sortContacts(out)
	return out
}

// Contact returns one conversation's snapshot.
func (s *Service) Contact(roomID int64) (Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[roomID]
	if !ok {
		return Contact{}, false
	}
	return s.snapshotLocked(c), true
}

// Messages returns the rendered rows of one conversation.
func (s *Service) Messages(roomID int64) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[roomID]
	if !ok {
		return nil
	}
	return append([]Entry(nil), c.Msgs...)
}

// Members returns the cached member list of a room.
func (s *Service) Members(roomID int64) []wire.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Member(nil), s.members[roomID]...)
}

// ActiveRoom reports the conversation currently on screen.
func (s *Service) ActiveRoom() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActiveRoom switches the on-screen conversation. The newly active
// room is marked read after the usual debounce.
func (s *Service) SetActiveRoom(roomID int64) {
	s.mu.Lock()
	s.active = roomID
	c, ok := s.contacts[roomID]
	if ok && c.UnreadCount > 0 {
		s.scheduleMarkReadLocked(roomID)
	}
	s.mu.Unlock()
}

// PageInMessages loads a page of history from local storage into the
// conversation's message list, marking the list paged-in so live
// arrivals start appending.
func (s *Service) PageInMessages(roomID int64, beforeTime int64, limit int) error {
	msgs, err := s.db.ListMessages(roomID, beforeTime, limit)
	if err != nil {
		return fmt.Errorf("page in messages: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[roomID]
	if !ok {
		return nil
	}
	entries := make([]Entry, 0, len(msgs)+len(c.Msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{ChatMessage: m})
	}
	// Older history goes in front of whatever already arrived live.
	c.Msgs = append(entries, c.Msgs...)
	c.PagedIn = true
	return nil
}

// RefreshContact fetches the authoritative conversation detail, served
// from cache inside the TTL and collapsed across concurrent callers.
func (s *Service) RefreshContact(ctx context.Context, roomID int64) (Contact, error) {
	s.mu.Lock()
	if c, ok := s.contacts[roomID]; ok && time.Since(c.SaveTime) < contactCacheTTL && !c.SaveTime.IsZero() {
		snap := s.snapshotLocked(c)
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	_, err, _ := s.flight.Do(fmt.Sprintf("contact_%d", roomID), func() (any, error) {
		detail, err := s.fetcher.ContactDetail(ctx, roomID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		c, ok := s.contacts[roomID]
		if !ok {
			c = &Contact{}
			s.contacts[roomID] = c
		}
		c.ContactDetail = *detail
		c.SaveTime = time.Now()
		s.mu.Unlock()
		if err := s.db.UpsertContact(detail); err != nil {
			s.logger.Warn("persist contact", zap.Int64("room", roomID), zap.Error(err))
		}
		s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: roomID})
		return nil, nil
	})
	if err != nil {
		return Contact{}, fmt.Errorf("refresh contact %d: %w", roomID, err)
	}
	c, _ := s.Contact(roomID)
	return c, nil
}

func (s *Service) snapshotLocked(c *Contact) Contact {
	snap := *c
	snap.Msgs = append([]Entry(nil), c.Msgs...)
	return snap
}

func sortContacts(list []Contact) {
	// Pinned first (newest pin first), then most recently active.
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && contactLess(list[j], list[j-1]); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func contactLess(a, b Contact) bool {
	if (a.PinTime > 0) != (b.PinTime > 0) {
		return a.PinTime > 0
	}
	if a.PinTime != b.PinTime {
		return a.PinTime > b.PinTime
	}
	return a.ActiveTime > b.ActiveTime
}

func foundKey(roomID, msgID int64) string {
	return fmt.Sprintf("%d_%d", roomID, msgID)
}
