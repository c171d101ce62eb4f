package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pigeon/internal/bus"
	"pigeon/internal/wire"
)

// reduceNewMessages drains the new-message inbox and folds every entry
// into its conversation. Unknown conversations are skipped but still
// drained, so the bucket never grows without bound.
func (s *Service) reduceNewMessages() {
	batch := s.inbox.DrainMessages()
	if len(batch) == 0 {
		return
	}
	self := s.profile().UserID

	s.mu.Lock()
	for _, m := range batch {
		c, ok := s.contacts[m.Message.RoomID]
		if !ok {
			continue
		}
		fromSelf := m.FromUser.UserID == self
		isActive := s.active == m.Message.RoomID

		switch {
		case fromSelf:
			// Own echoes never count as unread.
		case isActive:
			s.scheduleMarkReadLocked(m.Message.RoomID)
		default:
			c.UnreadCount++
		}

		c.Text = summaryText(c.Type, m)
		if m.Message.ID > 0 {
			c.LastMsgID = m.Message.ID
		}
		if m.Message.SendTime > c.ActiveTime {
			c.ActiveTime = m.Message.SendTime
		}
		if c.PagedIn {
			s.insertOrderedLocked(c, m)
		}
		detail := c.ContactDetail
		mm := m
		s.mu.Unlock()
		if err := s.db.UpsertMessage(&mm); err != nil {
			s.logger.Warn("persist message", zap.Int64("msg", m.Message.ID), zap.Error(err))
		}
		if err := s.db.UpsertContact(&detail); err != nil {
			s.logger.Warn("persist contact", zap.Int64("room", detail.RoomID), zap.Error(err))
		}
		s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Payload: m})
		s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: m.Message.RoomID})
		if isActive && !fromSelf {
			s.bus.Publish(bus.Event{Kind: bus.KindChatScrollBottom, Payload: m.Message.RoomID})
		}
		s.mu.Lock()
	}
	s.mu.Unlock()
}

// insertOrderedLocked places a message into the list keeping it sorted
// ascending by (sendTime, id) with no duplicate ids. Queued local
// echoes stay at the tail.
func (s *Service) insertOrderedLocked(c *Contact, m wire.ChatMessage) {
	for _, e := range c.Msgs {
		if e.QueueID == "" && e.Message.ID == m.Message.ID {
			return
		}
	}
	entry := Entry{ChatMessage: m}
	// Find the first entry that should come after the new message.
	// Scanning from the back is cheap: arrivals are almost always
	// newest-last.
	pos := len(c.Msgs)
	for pos > 0 {
		prev := c.Msgs[pos-1]
		if prev.QueueID != "" {
			pos--
			continue
		}
		if prev.Message.SendTime < m.Message.SendTime ||
			(prev.Message.SendTime == m.Message.SendTime && prev.Message.ID < m.Message.ID) {
			break
		}
		pos--
	}
	c.Msgs = append(c.Msgs, Entry{})
	copy(c.Msgs[pos+1:], c.Msgs[pos:])
	c.Msgs[pos] = entry
}

func summaryText(roomType wire.RoomType, m wire.ChatMessage) string {
	// An AI reply with no text yet gets an in-progress placeholder.
	if m.Message.Type == wire.MsgTypeAIReply && m.Message.Content == "" {
		if roomType == wire.RoomGroup && m.FromUser.Nickname != "" {
			return fmt.Sprintf("%s: 回答中...", m.FromUser.Nickname)
		}
		return "AI回答中..."
	}
	text := previewText(m)
	if roomType == wire.RoomGroup && m.FromUser.Nickname != "" {
		return fmt.Sprintf("%s: %s", m.FromUser.Nickname, text)
	}
	return text
}

func previewText(m wire.ChatMessage) string {
	if m.Message.Type == wire.MsgTypeRTC {
		return "[通话]"
	}
	return m.Message.Content
}

// reduceRecall rewrites a recalled message in place. Applying the same
// recall twice lands in the same terminal state.
func (s *Service) reduceRecall(r wire.MsgRecall) {
	defer s.inbox.DrainRecall(r.MsgID)

	s.mu.Lock()
	c, ok := s.contacts[r.RoomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	idx := indexOfMsg(c.Msgs, r.MsgID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	e := &c.Msgs[idx]
	recaller := r.RecallUID
	if recaller == "" {
		recaller = e.FromUser.UserID
	}
	text := fmt.Sprintf("\"%s\"撤回了一条消息", e.FromUser.Nickname)
	if recaller == s.profile().UserID {
		text = "我撤回了一条消息"
	}
	e.Message.Content = text
	e.Message.Type = wire.MsgTypeRecall
	e.Message.Body = nil
	if c.LastMsgID == r.MsgID {
		c.Text = text
	}
	persist := e.ChatMessage
	detail := c.ContactDetail
	_ = s.found.Del(foundKey(r.RoomID, r.MsgID))
	s.mu.Unlock()

	if err := s.db.UpsertMessage(&persist); err != nil {
		s.logger.Warn("persist recall", zap.Int64("msg", r.MsgID), zap.Error(err))
	}
	if err := s.db.UpsertContact(&detail); err != nil {
		s.logger.Warn("persist contact", zap.Int64("room", r.RoomID), zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Payload: persist})
	s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: r.RoomID})
}

// reduceDelete mirrors reduceRecall with deleter-dependent phrasing.
func (s *Service) reduceDelete(d wire.MsgDelete) {
	defer s.inbox.DrainDelete(d.MsgID)

	s.mu.Lock()
	c, ok := s.contacts[d.RoomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	idx := indexOfMsg(c.Msgs, d.MsgID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	e := &c.Msgs[idx]
	name, isSelf := s.deleterLocked(d, e)
	text := fmt.Sprintf("\"%s\"删除了一条消息", name)
	if isSelf {
		text = "我删除了一条消息"
	}
	e.Message.Content = text
	e.Message.Type = wire.MsgTypeDelete
	e.Message.Body = nil
	if c.LastMsgID == d.MsgID {
		c.Text = text
	}
	persist := e.ChatMessage
	detail := c.ContactDetail
	_ = s.found.Del(foundKey(d.RoomID, d.MsgID))
	s.mu.Unlock()

	if err := s.db.UpsertMessage(&persist); err != nil {
		s.logger.Warn("persist delete", zap.Int64("msg", d.MsgID), zap.Error(err))
	}
	if err := s.db.UpsertContact(&detail); err != nil {
		s.logger.Warn("persist contact", zap.Int64("room", d.RoomID), zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Payload: persist})
	s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: d.RoomID})
}

// deleterLocked resolves who deleted a message and whether that is the
// current user: the sender themselves, the current user, or a cached
// room member.
func (s *Service) deleterLocked(d wire.MsgDelete, e *Entry) (string, bool) {
	actor := d.DeleteUID
	if actor == "" {
		actor = e.FromUser.UserID
	}
	if self := s.profile(); actor == self.UserID {
		return self.Nickname, true
	}
	if actor == e.FromUser.UserID {
		return e.FromUser.Nickname, false
	}
	for _, m := range s.members[d.RoomID] {
		if m.UserID == actor {
			return m.Nickname, false
		}
	}
	return actor, false
}

// reducePins drains the pin bucket. A pin for anything other than the
// already-tracked active room triggers a full refetch instead of a
// local patch, so stale fields never get a partial update.
func (s *Service) reducePins() {
	batch := s.inbox.DrainPin()
	for _, p := range batch {
		s.mu.Lock()
		c, tracked := s.contacts[p.RoomID]
		patch := tracked && s.active == p.RoomID
		if patch {
			c.PinTime = p.PinTime
			if p.IsPin == 0 {
				c.PinTime = 0
			}
			detail := c.ContactDetail
			s.mu.Unlock()
			if err := s.db.UpsertContact(&detail); err != nil {
				s.logger.Warn("persist pin", zap.Int64("room", p.RoomID), zap.Error(err))
			}
			s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: p.RoomID})
			continue
		}
		if tracked {
			// Force the TTL aside; the push told us our copy is stale.
			c.SaveTime = time.Time{}
		}
		s.mu.Unlock()
		roomID := p.RoomID
		ctx := s.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		go func() {
			if _, err := s.RefreshContact(ctx, roomID); err != nil {
				s.logger.Warn("pin refetch", zap.Int64("room", roomID), zap.Error(err))
			}
		}()
	}
}

// reduceAIStream locates the target message, keeps its terminal status,
// and hands the reveal mechanics to the assembler.
func (s *Service) reduceAIStream(chunk wire.AIStreamChunk) {
	s.mu.Lock()
	isActive := s.active == chunk.RoomID
	if chunk.Status == wire.AIStreamStart {
		if c, ok := s.contacts[chunk.RoomID]; ok {
			text := "AI回答中..."
			if idx := indexOfMsg(c.Msgs, chunk.MsgID); idx >= 0 {
				text = summaryText(c.Type, c.Msgs[idx].ChatMessage)
			}
			c.Text = text
		}
	}
	s.mu.Unlock()

	if chunk.Status == wire.AIStreamStart {
		s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: chunk.RoomID})
	}
	if s.streamer != nil {
		s.streamer.Ingest(chunk, isActive)
	}
	if chunk.Status.Terminal() {
		s.inbox.DrainAIStream(chunk.MsgID)
	}
}

// ApplyAIStream is the assembler's write-back: it sets the accumulated
// text and status on the target message. Part of stream.Applier.
func (s *Service) ApplyAIStream(roomID, msgID int64, content, reasoning string, status wire.AIStreamStatus) {
	s.mu.Lock()
	c, ok := s.contacts[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	idx := indexOfMsg(c.Msgs, msgID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	e := &c.Msgs[idx]
	e.Message.Content = content
	if e.Message.Body == nil {
		e.Message.Body = &wire.MessageBody{}
	}
	e.Message.Body.ReasoningContent = reasoning
	e.Message.Body.Status = status
	if status.Terminal() {
		c.Text = summaryText(c.Type, e.ChatMessage)
	}
	_ = s.found.Del(foundKey(roomID, msgID))
	persist := e.ChatMessage
	isActive := s.active == roomID
	s.mu.Unlock()

	if status.Terminal() {
		if err := s.db.UpsertMessage(&persist); err != nil {
			s.logger.Warn("persist ai reply", zap.Int64("msg", msgID), zap.Error(err))
		}
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Payload: persist})
	if isActive {
		s.bus.Publish(bus.Event{Kind: bus.KindChatScrollBottom, Payload: roomID})
	}
}

// FindMsg looks a message up by room and id, memoized. The cache is
// never authoritative: every mutation of a message invalidates it.
func (s *Service) FindMsg(roomID, msgID int64) (wire.ChatMessage, bool) {
	key := foundKey(roomID, msgID)
	if m, err := s.found.Get(key); err == nil {
		return m, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[roomID]
	if !ok {
		return wire.ChatMessage{}, false
	}
	idx := indexOfMsg(c.Msgs, msgID)
	if idx < 0 {
		return wire.ChatMessage{}, false
	}
	m := c.Msgs[idx].ChatMessage
	s.found.Set(key, m)
	return m, true
}

func indexOfMsg(entries []Entry, msgID int64) int {
	for i := range entries {
		if entries[i].QueueID == "" && entries[i].Message.ID == msgID {
			return i
		}
	}
	return -1
}

// scheduleMarkReadLocked arms the per-room read receipt debounce.
func (s *Service) scheduleMarkReadLocked(roomID int64) {
	if t, ok := s.readTimers[roomID]; ok {
		t.Reset(markReadDebounce)
		return
	}
	s.readTimers[roomID] = time.AfterFunc(markReadDebounce, func() {
		s.markRead(roomID)
	})
}

func (s *Service) markRead(roomID int64) {
	s.mu.Lock()
	if t, ok := s.readTimers[roomID]; ok {
		t.Stop()
		delete(s.readTimers, roomID)
	}
	c, ok := s.contacts[roomID]
	var detail wire.ContactDetail
	if ok {
		c.UnreadCount = 0
		detail = c.ContactDetail
	}
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return
	}
	s.inbox.DrainMessagesForRoom(roomID)
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.fetcher.MarkRead(ctx, roomID); err != nil {
		s.logger.Warn("mark read", zap.Int64("room", roomID), zap.Error(err))
	}
	if err := s.db.UpsertContact(&detail); err != nil {
		s.logger.Warn("persist contact", zap.Int64("room", roomID), zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: roomID})
}
