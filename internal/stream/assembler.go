package stream

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pigeon/internal/wire"
)

// Reveal tuning. Active conversations get a typewriter reveal; hidden
// ones coalesce bursts and apply them wholesale once the stream pauses.
const (
	DefaultRevealRunes = 3
	DefaultRevealEvery = 30 * time.Millisecond
	DefaultQuietWindow = time.Second
)

// Applier receives accumulated stream text. The conversation reducer
// implements it; content and reasoning are the full text revealed so
// far, not deltas.
type Applier interface {
	ApplyAIStream(roomID, msgID int64, content, reasoning string, status wire.AIStreamStatus)
}

// Options tunes the reveal cadence.
type Options struct {
	RevealRunes int
	RevealEvery time.Duration
	QuietWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.RevealRunes <= 0 {
		o.RevealRunes = DefaultRevealRunes
	}
	if o.RevealEvery <= 0 {
		o.RevealEvery = DefaultRevealEvery
	}
	if o.QuietWindow <= 0 {
		o.QuietWindow = DefaultQuietWindow
	}
	return o
}

// Assembler accumulates incremental AI reply pushes into complete
// messages, one buffer per in-flight reply. Buffers are keyed by
// room and message id so concurrent replies in different rooms never
// interleave.
type Assembler struct {
	applier Applier
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	streams map[string]*reply
}

type reply struct {
	roomID, msgID     int64
	pendingContent    []rune
	pendingReasoning  []rune
	revealedContent   []rune
	revealedReasoning []rune
	status            wire.AIStreamStatus
	active            bool
	revealArmed       bool
	reveal            *time.Timer
	quiet             *time.Timer
}

// New creates an assembler delivering into applier.
func New(applier Applier, opts Options, logger *zap.Logger) *Assembler {
	return &Assembler{
		applier: applier,
		opts:    opts.withDefaults(),
		logger:  logger.Named("stream"),
		streams: make(map[string]*reply),
	}
}

func key(roomID, msgID int64) string {
	return fmt.Sprintf("%d_%d", roomID, msgID)
}

// Ingest consumes one stream chunk. active tells the assembler whether
// the chunk's room is the conversation on screen: active replies are
// revealed a few runes at a time, background ones are coalesced and
// applied in bulk after a quiet window. A terminal chunk flushes
// everything immediately and retires the buffer.
func (a *Assembler) Ingest(chunk wire.AIStreamChunk, active bool) {
	a.mu.Lock()
	k := key(chunk.RoomID, chunk.MsgID)
	r, ok := a.streams[k]
	if !ok {
		if chunk.Status.Terminal() {
			// Terminal chunk for a reply we never saw start: apply
			// whatever it carries and move on.
			a.mu.Unlock()
			a.applier.ApplyAIStream(chunk.RoomID, chunk.MsgID, chunk.Content, chunk.ReasoningContent, chunk.Status)
			return
		}
		r = &reply{roomID: chunk.RoomID, msgID: chunk.MsgID}
		a.streams[k] = r
	}
	r.status = chunk.Status
	r.active = active

	if chunk.Status.Terminal() {
		// A terminal chunk carries the complete payload: apply it
		// directly, bypassing whatever the reveal queue still holds.
		a.finishLocked(k, r, chunk)
		return
	}

	r.pendingContent = append(r.pendingContent, []rune(chunk.Content)...)
	r.pendingReasoning = append(r.pendingReasoning, []rune(chunk.ReasoningContent)...)

	if active {
		if r.quiet != nil {
			r.quiet.Stop()
			r.quiet = nil
		}
		if r.revealArmed {
			a.mu.Unlock()
			return
		}
		r.revealArmed = true
		a.mu.Unlock()
		// The first step runs inline so the reveal starts with the
		// chunk, not a tick later; the rest of the chain is timed.
		a.revealStep(k)
		return
	}

	// Background: a reveal chain armed while the room was on screen
	// stops here, then the quiet timer owns delivery. The reply is
	// applied once the server stops pushing for a full window.
	if r.reveal != nil {
		r.reveal.Stop()
		r.reveal = nil
	}
	r.revealArmed = false
	if r.quiet != nil {
		r.quiet.Stop()
	}
	r.quiet = time.AfterFunc(a.opts.QuietWindow, func() { a.flushQuiet(k) })
	a.mu.Unlock()
}

// revealStep moves a few runes from pending to revealed and applies the
// accumulated text. Runs on the reveal cadence while anything pending.
func (a *Assembler) revealStep(k string) {
	a.mu.Lock()
	r, ok := a.streams[k]
	if !ok {
		a.mu.Unlock()
		return
	}
	if !r.active {
		// Demoted to background mid-chain; the quiet flush takes over.
		r.revealArmed = false
		r.reveal = nil
		a.mu.Unlock()
		return
	}
	budget := a.opts.RevealRunes
	// Reasoning streams ahead of the answer, reveal it first.
	n := min(budget, len(r.pendingReasoning))
	r.revealedReasoning = append(r.revealedReasoning, r.pendingReasoning[:n]...)
	r.pendingReasoning = r.pendingReasoning[n:]
	budget -= n
	n = min(budget, len(r.pendingContent))
	r.revealedContent = append(r.revealedContent, r.pendingContent[:n]...)
	r.pendingContent = r.pendingContent[n:]

	content, reasoning := string(r.revealedContent), string(r.revealedReasoning)
	status := r.status
	roomID, msgID := r.roomID, r.msgID
	if len(r.pendingContent) > 0 || len(r.pendingReasoning) > 0 {
		r.reveal = time.AfterFunc(a.opts.RevealEvery, func() { a.revealStep(k) })
	} else {
		r.revealArmed = false
		r.reveal = nil
	}
	a.mu.Unlock()

	a.applier.ApplyAIStream(roomID, msgID, content, reasoning, status)
}

// flushQuiet applies everything buffered for a background reply.
func (a *Assembler) flushQuiet(k string) {
	a.mu.Lock()
	r, ok := a.streams[k]
	if !ok {
		a.mu.Unlock()
		return
	}
	r.revealedContent = append(r.revealedContent, r.pendingContent...)
	r.revealedReasoning = append(r.revealedReasoning, r.pendingReasoning...)
	r.pendingContent, r.pendingReasoning = nil, nil
	r.quiet = nil
	content, reasoning := string(r.revealedContent), string(r.revealedReasoning)
	status := r.status
	roomID, msgID := r.roomID, r.msgID
	a.mu.Unlock()

	a.applier.ApplyAIStream(roomID, msgID, content, reasoning, status)
}

// finishLocked retires a terminal reply's buffer and applies the final
// chunk's full payload. Called with a.mu held; releases it.
func (a *Assembler) finishLocked(k string, r *reply, final wire.AIStreamChunk) {
	if r.quiet != nil {
		r.quiet.Stop()
	}
	if r.reveal != nil {
		r.reveal.Stop()
	}
	roomID, msgID := r.roomID, r.msgID
	delete(a.streams, k)
	a.mu.Unlock()

	a.applier.ApplyAIStream(roomID, msgID, final.Content, final.ReasoningContent, final.Status)
	a.logger.Debug("stream finished",
		zap.Int64("room", roomID), zap.Int64("msg", msgID),
		zap.Int("status", int(final.Status)))
}

// Cancel drops an in-flight buffer without applying it.
func (a *Assembler) Cancel(roomID, msgID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key(roomID, msgID)
	if r, ok := a.streams[k]; ok {
		if r.quiet != nil {
			r.quiet.Stop()
		}
		if r.reveal != nil {
			r.reveal.Stop()
		}
		delete(a.streams, k)
	}
}

// Reset drops every in-flight buffer, used on session teardown.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, r := range a.streams {
		if r.quiet != nil {
			r.quiet.Stop()
		}
		if r.reveal != nil {
			r.reveal.Stop()
		}
		delete(a.streams, k)
	}
}

// Pending reports how many replies are currently being assembled.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.streams)
}
