// Package session runs one host broadcast: it feeds microphone audio to the
// recognizer adapter, drives the finalization pipeline on a serialized event
// loop, fans committed text out to translation workers, and broadcasts
// ordered events to the connected listeners.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkang1643/exbabel-relay/internal/asr"
	"github.com/jkang1643/exbabel-relay/internal/events"
	"github.com/jkang1643/exbabel-relay/internal/observability/metrics"
	"github.com/jkang1643/exbabel-relay/internal/pipeline"
	"github.com/jkang1643/exbabel-relay/internal/protocol"
	"github.com/jkang1643/exbabel-relay/internal/scripture"
	"github.com/jkang1643/exbabel-relay/internal/translate"
)

const (
	defaultStatsInterval = 10 * time.Second
	recoveryDeadline     = 8 * time.Second
	publishTimeout       = 5 * time.Second
)

// RecoveryTranscriber is implemented by adapters that can re-transcribe the
// rolling audio buffer out of band. A forced commit triggers one recovery
// attempt over the buffered audio so a better reading can still win the
// segment.
type RecoveryTranscriber interface {
	RecognizeOnce(ctx context.Context, audio []byte) (string, error)
	RollingBuffer() *asr.RollingBuffer
}

// Config carries the per-session settings negotiated in the host's init
// message.
type Config struct {
	SourceLang  string
	TargetLangs []string
	// Solo runs a single-user session: the host hears their own translations
	// and no listener endpoint is advertised.
	Solo bool
	// GrammarCorrection enables post-commit grammar refinements on the source
	// language.
	GrammarCorrection bool
	// ScriptureDetection scans committed finals for Bible references.
	ScriptureDetection bool

	Pipeline      pipeline.Config
	StatsInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.StatsInterval <= 0 {
		c.StatsInterval = defaultStatsInterval
	}
	return c
}

// Session is one live host broadcast. It implements pipeline.Scheduler and
// pipeline.CommitSink: all pipeline state is mutated only on the session's
// event loop, so the pipeline engines need no locking of their own.
type Session struct {
	ID  string
	cfg Config

	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	adapter   asr.Adapter
	pipe      *pipeline.Pipeline
	coord     *translate.Coordinator
	bcast     *Broadcaster
	publisher *events.Publisher

	loop chan func()
	quit chan struct{}
	wg   sync.WaitGroup

	createdAt time.Time
	segments  atomic.Int64

	mu          sync.Mutex
	host        *Subscriber
	statsCancel func()
	closed      bool

	closeOnce sync.Once
}

// New wires a session. cache may be nil to disable the translation cache;
// publisher may be nil to skip archiving.
func New(id string, cfg Config, adapter asr.Adapter, translator translate.Translator, cache *translate.Cache, publisher *events.Publisher, m *metrics.Metrics, log zerolog.Logger) *Session {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.DefaultMetrics
	}
	slog := log.With().Str("sessionId", id).Logger()

	s := &Session{
		ID:        id,
		cfg:       cfg,
		log:       slog,
		metrics:   m,
		now:       time.Now,
		adapter:   adapter,
		publisher: publisher,
		loop:      make(chan func(), 256),
		quit:      make(chan struct{}),
		createdAt: time.Now(),
	}
	if cfg.Pipeline.Now != nil {
		s.now = cfg.Pipeline.Now
	}

	s.bcast = newBroadcaster(id, cfg.SourceLang, m, slog)
	s.coord = translate.NewCoordinator(translate.CoordinatorConfig{
		SourceLang:        cfg.SourceLang,
		TargetLangs:       cfg.TargetLangs,
		GrammarCorrection: cfg.GrammarCorrection,
		Now:               s.now,
	}, translator, cache, slog, s.bcast)
	s.pipe = pipeline.New(cfg.Pipeline, s, slog, id, s)

	s.wg.Add(1)
	go s.run()
	return s
}

// Start registers the recognizer callbacks and opens the streaming session.
func (s *Session) Start(ctx context.Context, opts asr.Options) error {
	s.adapter.OnResult(s.handleResult)
	s.adapter.OnError(s.handleFatal)
	if err := s.adapter.Initialize(ctx, s.cfg.SourceLang, opts); err != nil {
		return err
	}
	s.metrics.RecordSessionStart()
	s.scheduleStats()
	s.log.Info().
		Str("sourceLang", s.cfg.SourceLang).
		Strs("targetLangs", s.cfg.TargetLangs).
		Bool("solo", s.cfg.Solo).
		Msg("session started")
	return nil
}

// Broadcaster exposes the event fanout for the transport layer.
func (s *Session) Broadcaster() *Broadcaster {
	return s.bcast
}

// AttachHost records the host's subscriber so stats and errors reach it
// directly.
func (s *Session) AttachHost(sub *Subscriber) {
	s.mu.Lock()
	s.host = sub
	s.mu.Unlock()
}

// Solo reports whether the session runs in single-user mode.
func (s *Session) Solo() bool {
	return s.cfg.Solo
}

// SourceLang returns the host's spoken language.
func (s *Session) SourceLang() string {
	return s.cfg.SourceLang
}

// ProcessAudio forwards one base64 PCM chunk to the recognizer. Safe to call
// from the transport's read goroutine; the adapter serializes writes itself.
func (s *Session) ProcessAudio(base64PCM string) error {
	s.metrics.RecordAudioReceived(len(base64PCM))
	return s.adapter.ProcessAudio(base64PCM)
}

// AudioEnd flushes all pending transcript state. Called when the host signals
// the end of the audio stream.
func (s *Session) AudioEnd() {
	s.Post(func() { s.pipe.Flush() })
}

// Post runs fn on the session loop. Part of pipeline.Scheduler.
func (s *Session) Post(fn func()) {
	select {
	case s.loop <- fn:
	case <-s.quit:
	}
}

// After schedules fn on the session loop after d. Part of pipeline.Scheduler.
func (s *Session) After(d time.Duration, fn func()) func() {
	var cancelled atomic.Bool
	t := time.AfterFunc(d, func() {
		if cancelled.Load() {
			return
		}
		s.Post(func() {
			if !cancelled.Load() {
				fn()
			}
		})
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
	}
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.loop:
			fn()
		case <-s.quit:
			return
		}
	}
}

// handleResult receives recognizer output on the adapter's goroutine and
// re-posts it onto the session loop.
func (s *Session) handleResult(r asr.Result) {
	s.Post(func() {
		switch {
		case r.Forced:
			s.handleForced(r.Text)
		case r.IsPartial:
			s.metrics.RecordPartialTranscript()
			s.pipe.HandlePartial(r.Text)
		default:
			s.metrics.RecordFinalTranscript()
			s.pipe.HandleFinal(r.Text)
		}
	})
}

// handleForced runs on the session loop. When the adapter can re-transcribe
// the rolling buffer, the segment is held open for one recovery attempt; the
// forced text still commits on its own timer if recovery loses the race.
func (s *Session) handleForced(text string) {
	rec, ok := s.adapter.(RecoveryTranscriber)
	if !ok {
		s.pipe.HandleForced(text)
		return
	}
	segmentID := s.pipe.CurrentSegmentID()
	audio := rec.RollingBuffer().Bytes()
	if len(audio) > 0 {
		s.pipe.MarkRecoveryPending(segmentID)
	}
	s.pipe.HandleForced(text)
	if len(audio) == 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recoveryDeadline)
		defer cancel()
		recovered, err := rec.RecognizeOnce(ctx, audio)
		if err != nil {
			s.log.Warn().Err(err).Str("segmentId", segmentID).Msg("recovery transcription failed")
			recovered = ""
		}
		s.Post(func() { s.pipe.ResolveRecovery(segmentID, recovered) })
	}()
}

// handleFatal receives unrecoverable adapter errors: bad credentials, an
// unsupported encoding. The session reports to the host and shuts down.
func (s *Session) handleFatal(err error) {
	s.log.Error().Err(err).Msg("recognizer failed, ending session")
	s.metrics.RecordRecognizerError("fatal")
	s.mu.Lock()
	host := s.host
	s.mu.Unlock()
	if host != nil {
		s.bcast.SendTo(host, protocol.ErrorEvent{
			Type:      protocol.TypeError,
			Code:      protocol.CodeInternalError,
			Message:   "speech recognition failed",
			SessionID: s.ID,
		})
	}
	go s.Close()
}

// EmitPartial broadcasts an interim transcript and schedules its interim
// translations. Part of pipeline.CommitSink; runs on the session loop.
func (s *Session) EmitPartial(segmentID, text string) {
	text = protocol.StripHTML(text)
	if text == "" {
		return
	}
	s.bcast.EmitTranscript(segmentID, "", text, false, false)
	s.coord.OnPartial(segmentID, text)
	s.archive(events.TranscriptRecord{
		SessionID:  s.ID,
		SegmentID:  segmentID,
		SourceLang: s.cfg.SourceLang,
		Text:       text,
		IsFinal:    false,
	}, false)
}

// CommitFinal broadcasts the committed text, acknowledges the commit to the
// finality gate, and fans out final translations, scripture detection, and
// archiving. Part of pipeline.CommitSink; runs on the session loop.
func (s *Session) CommitFinal(c pipeline.Candidate, commitID string) {
	text := protocol.StripHTML(c.Text)
	if text == "" {
		return
	}
	forced := c.Source == pipeline.SourceForced

	s.bcast.EmitTranscript(c.SegmentID, commitID, text, true, forced)
	s.pipe.Gate().MarkCommitted(c.SegmentID, commitID)
	s.metrics.RecordCommit(c.Source.String(), -1)
	s.segments.Add(1)

	s.coord.OnFinal(c.SegmentID, commitID, text, forced)

	if s.cfg.ScriptureDetection {
		for _, ref := range scripture.Detect(text) {
			s.log.Debug().Str("reference", ref.String()).Msg("scripture reference detected")
			s.bcast.EmitScripture(c.SegmentID, ref)
		}
	}

	s.archive(events.TranscriptRecord{
		SessionID:  s.ID,
		SegmentID:  c.SegmentID,
		CommitID:   commitID,
		SourceLang: s.cfg.SourceLang,
		Text:       text,
		IsFinal:    true,
		Source:     c.Source.String(),
	}, true)
}

// archive ships a transcript record to Kafka off the session loop.
func (s *Session) archive(rec events.TranscriptRecord, final bool) {
	if s.publisher == nil {
		return
	}
	rec.TimestampMS = s.now().UnixMilli()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if final {
			_ = s.publisher.PublishFinal(ctx, rec)
		} else {
			_ = s.publisher.PublishPartial(ctx, rec)
		}
	}()
}

// scheduleStats emits a session_stats event to the host on a fixed cadence.
func (s *Session) scheduleStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.statsCancel = s.After(s.cfg.StatsInterval, func() {
		s.emitStats()
		s.scheduleStats()
	})
}

func (s *Session) emitStats() {
	s.mu.Lock()
	host := s.host
	s.mu.Unlock()
	if host == nil {
		return
	}
	total, byLang := s.bcast.ListenerCounts()
	s.bcast.SendTo(host, protocol.SessionStatsEvent{
		Type:      protocol.TypeSessionStats,
		SessionID: s.ID,
		Listeners: total,
		ByLang:    byLang,
		Segments:  s.segments.Load(),
		UptimeMS:  s.now().Sub(s.createdAt).Milliseconds(),
	})
}

// Close flushes pending commits, tears down the recognizer and translation
// work, and drops every subscriber. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.statsCancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		done := make(chan struct{})
		s.Post(func() {
			s.pipe.Flush()
			s.pipe.Destroy()
			close(done)
		})
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			s.log.Warn().Msg("session loop did not drain before close")
		}
		close(s.quit)

		s.adapter.Destroy()
		s.coord.Close()
		s.bcast.CloseAll()
		s.wg.Wait()

		s.metrics.RecordSessionEnd(time.Since(s.createdAt).Seconds())
		s.log.Info().
			Int64("segments", s.segments.Load()).
			Dur("uptime", time.Since(s.createdAt)).
			Msg("session closed")
	})
}
