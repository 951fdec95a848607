package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jkang1643/exbabel-relay/internal/observability/metrics"
	"github.com/jkang1643/exbabel-relay/internal/protocol"
	"github.com/jkang1643/exbabel-relay/internal/scripture"
	"github.com/jkang1643/exbabel-relay/internal/translate"
)

// subscriberQueueSize bounds a listener's outbound queue. A listener that
// cannot drain this many events is closed rather than allowed to stall the
// session.
const subscriberQueueSize = 64

// LangAll subscribes to every language. Used by a solo host who wants to see
// their own translations alongside the transcript.
const LangAll = "*"

// Subscriber is one connected listener (or the host) receiving events for a
// single language.
type Subscriber struct {
	ID   string
	Lang string

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// Events is the outbound queue; the transport drains it onto the websocket.
func (s *Subscriber) Events() <-chan []byte {
	return s.send
}

// Closed is signalled when the subscriber was dropped, either by Unsubscribe
// or by queue overflow.
func (s *Subscriber) Closed() <-chan struct{} {
	return s.closed
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Broadcaster owns the per-session event ordering: every outbound event gets
// the next strictly increasing seqId, then fans out to the subscribers of its
// language. Implements translate.Sink.
type Broadcaster struct {
	log     zerolog.Logger
	metrics *metrics.Metrics

	sessionID  string
	sourceLang string
	now        func() time.Time

	mu   sync.Mutex
	seq  int64
	subs map[string]*Subscriber
}

func newBroadcaster(sessionID, sourceLang string, m *metrics.Metrics, log zerolog.Logger) *Broadcaster {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Broadcaster{
		log:        log.With().Str("component", "broadcaster").Logger(),
		metrics:    m,
		sessionID:  sessionID,
		sourceLang: sourceLang,
		now:        time.Now,
		subs:       make(map[string]*Subscriber),
	}
}

// Subscribe registers a listener for one language and returns its queue.
func (b *Broadcaster) Subscribe(lang string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		Lang:   lang,
		send:   make(chan []byte, subscriberQueueSize),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	b.metrics.RecordListenerJoin(lang)
	return sub
}

// Unsubscribe drops a listener.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
		b.metrics.RecordListenerLeave(sub.Lang)
	}
}

// LastSeq returns the most recently assigned sequence number.
func (b *Broadcaster) LastSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// ListenerCounts returns the total subscriber count and the per-language
// breakdown.
func (b *Broadcaster) ListenerCounts() (int, map[string]int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byLang := make(map[string]int, len(b.subs))
	for _, sub := range b.subs {
		byLang[sub.Lang]++
	}
	return len(b.subs), byLang
}

// EmitTranslation delivers a completed rendition to its language's
// subscribers. Part of translate.Sink.
func (b *Broadcaster) EmitTranslation(ev translate.Event) {
	out := protocol.TranslationEvent{
		Type:             protocol.TypeTranslation,
		SessionID:        b.sessionID,
		SegmentID:        ev.SegmentID,
		CommitID:         ev.CommitID,
		SourceLang:       ev.SourceLang,
		TargetLang:       ev.TargetLang,
		Text:             ev.Text,
		SourceText:       ev.SourceText,
		IsFinal:          ev.IsFinal,
		Forced:           ev.Forced,
		Continuation:     ev.Continuation,
		HasTranslation:   ev.HasTranslation,
		TranslationError: ev.TranslationError,
		UpdateType:       ev.UpdateType,
		TimestampMS:      b.now().UnixMilli(),
	}
	b.sendToLang(ev.TargetLang, "translation", func(seq int64) any {
		out.SeqID = seq
		return out
	})
}

// EmitTranscript delivers source-language text: the raw transcript as heard,
// before any translation.
func (b *Broadcaster) EmitTranscript(segmentID, commitID, text string, isFinal, forced bool) {
	out := protocol.TranslationEvent{
		Type:        protocol.TypeTranslation,
		SessionID:   b.sessionID,
		SegmentID:   segmentID,
		CommitID:    commitID,
		SourceLang:  b.sourceLang,
		TargetLang:  b.sourceLang,
		Text:        text,
		IsFinal:     isFinal,
		Forced:      forced,
		TimestampMS: b.now().UnixMilli(),
	}
	b.sendToLang(b.sourceLang, "transcript", func(seq int64) any {
		out.SeqID = seq
		return out
	})
}

// EmitScripture notifies every subscriber of a detected reference.
func (b *Broadcaster) EmitScripture(segmentID string, ref scripture.Reference) {
	out := protocol.ScriptureDetectedEvent{
		Type:      protocol.TypeScriptureDetected,
		SessionID: b.sessionID,
		SegmentID: segmentID,
		Reference: protocol.ScriptureRef{
			Book:     ref.Book,
			Chapter:  ref.Chapter,
			Verse:    ref.Verse,
			VerseEnd: ref.VerseEnd,
		},
		DisplayText: ref.String(),
		Confidence:  ref.Confidence,
		Method:      ref.Method,
		TimestampMS: b.now().UnixMilli(),
	}
	b.sendToLang("", "scripture", func(seq int64) any {
		out.SeqID = seq
		return out
	})
}

// SendTo delivers an event to a single subscriber, outside the per-language
// routing. Used for joined confirmations, stats, and errors.
func (b *Broadcaster) SendTo(sub *Subscriber, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		b.log.Error().Err(err).Msg("marshal direct event")
		return
	}
	b.deliver(sub, raw)
}

// sendToLang assigns the next seqId, builds the payload, and fans it out to
// subscribers of lang (all subscribers when lang is empty).
func (b *Broadcaster) sendToLang(lang, eventType string, build func(seq int64) any) {
	b.mu.Lock()
	b.seq++
	payload := build(b.seq)
	var targets []*Subscriber
	for _, sub := range b.subs {
		if lang == "" || sub.Lang == lang || sub.Lang == LangAll {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("eventType", eventType).Msg("marshal event")
		return
	}
	b.metrics.RecordBroadcast(eventType)
	for _, sub := range targets {
		b.deliver(sub, raw)
	}
}

// deliver enqueues without blocking; a saturated subscriber is dropped so one
// slow listener cannot hold the session back.
func (b *Broadcaster) deliver(sub *Subscriber, raw []byte) {
	select {
	case <-sub.closed:
		return
	default:
	}
	select {
	case sub.send <- raw:
	default:
		b.log.Warn().
			Str("listenerId", sub.ID).
			Str("lang", sub.Lang).
			Msg("listener outbound queue saturated, dropping listener")
		b.metrics.RecordListenerOverflow()
		b.Unsubscribe(sub.ID)
	}
}

// CloseAll drops every subscriber. Called on session teardown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
		b.metrics.RecordListenerLeave(sub.Lang)
	}
}
