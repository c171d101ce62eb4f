package chat

import (
	"go.uber.org/zap"

	"pigeon/internal/bus"
	"pigeon/internal/outbox"
)

// handleQueue mirrors send-queue lifecycle events into the message
// lists: optimistic echoes appear on add, get swapped for the server's
// record on success, and carry a visible error state on failure.
func (s *Service) handleQueue(evt bus.Event) {
	if evt.Kind == bus.KindQueueClear {
		s.queueClear()
		return
	}
	item, ok := evt.Payload.(outbox.Item)
	if !ok {
		return
	}
	switch evt.Kind {
	case bus.KindQueueAdd:
		s.queueAdd(item)
	case bus.KindQueueProcessing:
		s.queueStatus(item)
	case bus.KindQueueSuccess:
		s.queueSuccess(item)
	case bus.KindQueueError:
		s.queueError(item)
	case bus.KindQueueRetry:
		s.queueRetry(item)
	}
}

func (s *Service) queueAdd(item outbox.Item) {
	roomID := item.Form.RoomID
	s.mu.Lock()
	c, ok := s.contacts[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if c.PagedIn {
		c.Msgs = append(c.Msgs, Entry{
			ChatMessage: item.Preview,
			QueueID:     item.ID,
			QueueStatus: item.Status,
		})
	}
	c.Text = summaryText(c.Type, item.Preview)
	if item.Preview.Message.SendTime > c.ActiveTime {
		c.ActiveTime = item.Preview.Message.SendTime
	}
	isActive := s.active == roomID
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: roomID})
	if isActive {
		s.bus.Publish(bus.Event{Kind: bus.KindChatScrollBottom, Payload: roomID})
	}
}

func (s *Service) queueStatus(item outbox.Item) {
	s.mu.Lock()
	if e := s.entryByQueueIDLocked(item.Form.RoomID, item.ID); e != nil {
		e.QueueStatus = item.Status
	}
	s.mu.Unlock()
}

func (s *Service) queueSuccess(item outbox.Item) {
	if item.Result == nil {
		return
	}
	roomID := item.Form.RoomID
	s.mu.Lock()
	c, ok := s.contacts[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e := s.entryByQueueIDLocked(roomID, item.ID); e != nil {
		// The optimistic echo becomes the authoritative record.
		e.ChatMessage = *item.Result
		e.QueueID = ""
		e.QueueStatus = outbox.StatusSuccess
		e.FailReason = ""
	} else if c.PagedIn {
		s.insertOrderedLocked(c, *item.Result)
	}
	c.Text = summaryText(c.Type, *item.Result)
	if item.Result.Message.ID > 0 {
		c.LastMsgID = item.Result.Message.ID
	}
	if item.Result.Message.SendTime > c.ActiveTime {
		c.ActiveTime = item.Result.Message.SendTime
	}
	persistMsg := *item.Result
	detail := c.ContactDetail
	s.mu.Unlock()

	if err := s.db.UpsertMessage(&persistMsg); err != nil {
		s.logger.Warn("persist sent message", zap.Int64("msg", persistMsg.Message.ID), zap.Error(err))
	}
	if err := s.db.UpsertContact(&detail); err != nil {
		s.logger.Warn("persist contact", zap.Int64("room", roomID), zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Payload: persistMsg})
	s.bus.Publish(bus.Event{Kind: bus.KindChatContact, Payload: roomID})
}

func (s *Service) queueError(item outbox.Item) {
	s.mu.Lock()
	if e := s.entryByQueueIDLocked(item.Form.RoomID, item.ID); e != nil {
		e.QueueStatus = outbox.StatusError
		e.FailReason = item.FailReason
	}
	s.mu.Unlock()
	s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Payload: item.Preview})
}

// queueRetry removes the failed echo; the fresh copy re-arrives via its
// own add event.
func (s *Service) queueRetry(item outbox.Item) {
	roomID := item.Form.RoomID
	s.mu.Lock()
	c, ok := s.contacts[roomID]
	if ok {
		for i := range c.Msgs {
			if c.Msgs[i].QueueID == item.ID {
				c.Msgs = append(c.Msgs[:i], c.Msgs[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
}

func (s *Service) queueClear() {
	s.mu.Lock()
	for _, c := range s.contacts {
		kept := c.Msgs[:0]
		for _, e := range c.Msgs {
			if e.QueueID == "" {
				kept = append(kept, e)
			}
		}
		c.Msgs = kept
	}
	s.mu.Unlock()
}

func (s *Service) entryByQueueIDLocked(roomID int64, id string) *Entry {
	c, ok := s.contacts[roomID]
	if !ok {
		return nil
	}
	for i := range c.Msgs {
		if c.Msgs[i].QueueID == id {
			return &c.Msgs[i]
		}
	}
	return nil
}
