package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pigeon/internal/bus"
	"pigeon/internal/wire"
)

// bufferMemberChange batches member pushes: rooms often emit several in
// a row (mass invite, group dissolve) and reconciling once per burst is
// enough.
func (s *Service) bufferMemberChange(m wire.MemberChange) {
	s.mu.Lock()
	s.memberBuf = append(s.memberBuf, m)
	if s.memberTimer == nil {
		s.memberTimer = time.AfterFunc(memberDebounce, s.flushMemberChanges)
	} else {
		s.memberTimer.Reset(memberDebounce)
	}
	s.mu.Unlock()
}

func (s *Service) flushMemberChanges() {
	s.mu.Lock()
	batch := s.memberBuf
	s.memberBuf = nil
	s.memberTimer = nil
	s.mu.Unlock()

	// The inbox bucket also holds the batch; take whichever is longer
	// in case a push raced the timer.
	if drained := s.inbox.DrainMembers(); len(drained) > len(batch) {
		batch = drained
	}

	self := s.profile().UserID
	for _, m := range batch {
		switch m.ChangeType {
		case wire.MemberJoin:
			s.memberJoin(m)
		case wire.MemberLeave:
			s.memberLeave(m, self)
		case wire.MemberRemove:
			s.memberRemove(m)
		default:
			s.logger.Debug("unknown member change", zap.Int("type", int(m.ChangeType)))
		}
	}
}

func (s *Service) memberJoin(m wire.MemberChange) {
	s.mu.Lock()
	_, tracked := s.contacts[m.RoomID]
	if tracked {
		// Fast path: the joiner may already sit in the cached list
		// from a previous stint; surface them at the front.
		list := s.members[m.RoomID]
		for i, mem := range list {
			if mem.UserID == m.UID {
				copy(list[1:i+1], list[:i])
				list[0] = mem
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
		// Not cached: ask whoever owns the member list view to
		// reload it from the server.
		s.bus.Publish(bus.Event{Kind: bus.KindChatReloadMember, Payload: m.RoomID})
		return
	}
	s.mu.Unlock()

	// We were just invited. The room may not be queryable yet, give
	// the server a moment before fetching.
	roomID := m.RoomID
	time.AfterFunc(joinPropagationDelay, func() {
		ctx := s.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		detail, err := s.fetcher.ContactDetail(ctx, roomID)
		if err != nil {
			s.logger.Warn("fetch invited room", zap.Int64("room", roomID), zap.Error(err))
			return
		}
		s.mu.Lock()
		c, exists := s.contacts[roomID]
		if !exists {
			c = &Contact{}
			s.contacts[roomID] = c
		}
		c.ContactDetail = *detail
		c.SaveTime = time.Now()
		if !exists {
			c.UnreadCount = 1
		}
		persist := c.ContactDetail
		s.mu.Unlock()
		if err := s.db.UpsertContact(&persist); err != nil {
			s.logger.Warn("persist invited room", zap.Int64("room", roomID), zap.Error(err))
		}
		s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: roomID})
	})
}

func (s *Service) memberLeave(m wire.MemberChange, self string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.UID == self {
		// Our own departure keeps the conversation visible, it just
		// loses the membership flag.
		if c, ok := s.contacts[m.RoomID]; ok {
			c.SelfExist = false
		}
		return
	}
	list := s.members[m.RoomID]
	for i, mem := range list {
		if mem.UserID == m.UID {
			s.members[m.RoomID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (s *Service) memberRemove(m wire.MemberChange) {
	s.mu.Lock()
	c, ok := s.contacts[m.RoomID]
	if ok {
		for _, e := range c.Msgs {
			if e.QueueID == "" {
				_ = s.found.Del(foundKey(m.RoomID, e.Message.ID))
			}
		}
	}
	delete(s.contacts, m.RoomID)
	delete(s.members, m.RoomID)
	if s.active == m.RoomID {
		s.active = 0
	}
	s.mu.Unlock()

	if err := s.db.DeleteContact(m.RoomID); err != nil {
		s.logger.Warn("delete room", zap.Int64("room", m.RoomID), zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: m.RoomID})
}

// ReloadMembers replaces a room's cached member list from the server.
func (s *Service) ReloadMembers(ctx context.Context, roomID int64) error {
	members, err := s.fetcher.RoomMembers(ctx, roomID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.members[roomID] = members
	s.mu.Unlock()
	return nil
}
