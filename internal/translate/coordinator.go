package translate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkang1643/exbabel-relay/internal/pipeline"
)

// Event is one rendition of transcript text for one target language.
type Event struct {
	SegmentID  string
	CommitID   string
	SourceLang string
	TargetLang string
	SourceText string
	// Text is the rendition; when HasTranslation is false it echoes the
	// source text so listeners never see a gap.
	Text             string
	IsFinal          bool
	Forced           bool
	Continuation     bool
	HasTranslation   bool
	TranslationError bool
	UpdateType       string
}

// UpdateTypeGrammar marks a post-commit grammar refinement of already
// delivered text.
const UpdateTypeGrammar = "grammar"

// Sink receives renditions as they complete. Implemented by the session's
// broadcaster; must be safe for concurrent calls.
type Sink interface {
	EmitTranslation(ev Event)
}

// CoordinatorConfig carries the per-session translation tunables.
type CoordinatorConfig struct {
	SourceLang  string
	TargetLangs []string
	// GrammarCorrection enables post-commit grammar updates for listeners on
	// the source language.
	GrammarCorrection bool

	Now                func() time.Time
	MinPartialGrowth   int
	MinPartialInterval time.Duration
	MaxInflightPerPair int
	ContinuationWindow time.Duration
	PartialTimeout     time.Duration
	FinalTimeout       time.Duration
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.MinPartialGrowth <= 0 {
		c.MinPartialGrowth = 2
	}
	if c.MinPartialInterval <= 0 {
		c.MinPartialInterval = 150 * time.Millisecond
	}
	if c.MaxInflightPerPair <= 0 {
		c.MaxInflightPerPair = 5
	}
	if c.ContinuationWindow <= 0 {
		c.ContinuationWindow = 3 * time.Second
	}
	if c.PartialTimeout <= 0 {
		c.PartialTimeout = 5 * time.Second
	}
	if c.FinalTimeout <= 0 {
		c.FinalTimeout = 15 * time.Second
	}
	return c
}

// pairState is the throttle and in-flight bookkeeping for one target
// language. Guarded by the coordinator mutex.
type pairState struct {
	lastRequestedText string
	lastRequestAt     time.Time

	inflightOrder []int64
	inflight      map[int64]context.CancelFunc
}

// Coordinator fans transcript text out to per-language translation work,
// throttling interim updates, deduplicating continuation finals, and caching
// renditions. One coordinator serves one session.
type Coordinator struct {
	cfg        CoordinatorConfig
	translator Translator
	cache      *Cache
	log        zerolog.Logger
	sink       Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	pairs  map[string]*pairState
	nextID int64

	lastPartialText string

	lastFinalText   string
	lastFinalAt     time.Time
	lastFinalForced bool
}

// NewCoordinator creates a coordinator. cache may be nil to disable caching.
func NewCoordinator(cfg CoordinatorConfig, translator Translator, cache *Cache, log zerolog.Logger, sink Sink) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:        cfg.withDefaults(),
		translator: translator,
		cache:      cache,
		log:        log.With().Str("component", "translate.coordinator").Logger(),
		sink:       sink,
		ctx:        ctx,
		cancel:     cancel,
		pairs:      make(map[string]*pairState),
	}
}

// OnPartial schedules interim translations for every target language, subject
// to the growth and interval throttles.
func (c *Coordinator) OnPartial(segmentID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	now := c.cfg.Now()

	c.mu.Lock()
	if c.isResetLocked(text) {
		for _, ps := range c.pairs {
			ps.lastRequestedText = ""
			ps.lastRequestAt = time.Time{}
		}
	}
	c.lastPartialText = text

	type job struct {
		target string
		ctx    context.Context
		done   func()
	}
	var jobs []job
	for _, target := range c.cfg.TargetLangs {
		if target == c.cfg.SourceLang {
			continue
		}
		ps := c.pair(target)
		if grown := len(text) - len(ps.lastRequestedText); grown < c.cfg.MinPartialGrowth && ps.lastRequestedText != "" {
			continue
		}
		if !ps.lastRequestAt.IsZero() && now.Sub(ps.lastRequestAt) < c.cfg.MinPartialInterval {
			continue
		}
		ps.lastRequestedText = text
		ps.lastRequestAt = now
		jctx, done := c.admitLocked(ps)
		jobs = append(jobs, job{target: target, ctx: jctx, done: done})
	}
	c.mu.Unlock()

	for _, j := range jobs {
		c.wg.Add(1)
		go func(j job) {
			defer c.wg.Done()
			defer j.done()
			c.runPartial(j.ctx, segmentID, text, j.target)
		}(j)
	}
}

// OnFinal schedules final translations. A final that extends the previous one
// inside the continuation window is emitted in delta form: only the new
// suffix is translated. The extension check is case-insensitive and
// whitespace-normalized, falling back to an overlap merge against the
// previous final. Forced commits never participate in the dedup, on either
// side. When grammar correction applies, the corrected source feeds the final
// translations.
func (c *Coordinator) OnFinal(segmentID, commitID, text string, forced bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	now := c.cfg.Now()

	c.mu.Lock()
	fullText := text
	sourceText := text
	continuation := false
	if !forced && !c.lastFinalForced && c.lastFinalText != "" &&
		now.Sub(c.lastFinalAt) <= c.cfg.ContinuationWindow {
		if delta, ok := continuationDelta(c.lastFinalText, text); ok {
			sourceText = delta
			continuation = true
		} else if merged, ok := pipeline.MergeWithOverlap(c.lastFinalText, text); ok && len(merged) >= len(c.lastFinalText)+3 {
			if delta := strings.TrimSpace(merged[len(c.lastFinalText):]); delta != "" {
				fullText = merged
				sourceText = delta
				continuation = true
			}
		}
	}
	c.lastFinalText = fullText
	c.lastFinalAt = now
	c.lastFinalForced = forced
	c.lastPartialText = ""

	// A final supersedes everything in flight for the segment.
	for _, ps := range c.pairs {
		c.cancelAllLocked(ps)
		ps.lastRequestedText = ""
		ps.lastRequestAt = time.Time{}
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		toTranslate := sourceText
		if c.grammarApplies() {
			corrected := c.runGrammar(segmentID, commitID, text, forced)
			if !continuation && corrected != "" {
				toTranslate = corrected
			}
		}
		for _, target := range c.cfg.TargetLangs {
			if target == c.cfg.SourceLang {
				continue
			}
			target := target
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.runFinal(segmentID, commitID, toTranslate, target, forced, continuation)
			}()
		}
	}()
}

// continuationDelta reports the suffix of next beyond prev when prev is a
// prefix of next, comparing token by token so casing and whitespace
// differences do not break the chain.
func continuationDelta(prev, next string) (string, bool) {
	if len(next) <= len(prev) {
		return "", false
	}
	if strings.HasPrefix(next, prev) {
		if delta := strings.TrimSpace(next[len(prev):]); delta != "" {
			return delta, true
		}
		return "", false
	}
	prevTok := strings.Fields(prev)
	nextTok := strings.Fields(next)
	if len(nextTok) <= len(prevTok) {
		return "", false
	}
	for i, pt := range prevTok {
		if !strings.EqualFold(pt, nextTok[i]) {
			return "", false
		}
	}
	return strings.Join(nextTok[len(prevTok):], " "), true
}

func (c *Coordinator) grammarApplies() bool {
	return c.cfg.GrammarCorrection && strings.HasPrefix(strings.ToLower(c.cfg.SourceLang), "en")
}

// Wait blocks until all scheduled work has finished. Used by tests and
// shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels all in-flight work and waits for it to drain.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// isResetLocked detects the recognizer abandoning the current utterance: the
// new partial shrank sharply or rewrote the opening.
func (c *Coordinator) isResetLocked(text string) bool {
	prev := c.lastPartialText
	if prev == "" {
		return false
	}
	if len(text)*10 < len(prev)*6 {
		return true
	}
	n := 50
	if len(prev) < n {
		n = len(prev)
	}
	if len(text) < n {
		n = len(text)
	}
	return !strings.EqualFold(text[:n], prev[:n])
}

func (c *Coordinator) pair(target string) *pairState {
	ps, ok := c.pairs[target]
	if !ok {
		ps = &pairState{inflight: make(map[int64]context.CancelFunc)}
		c.pairs[target] = ps
	}
	return ps
}

// admitLocked reserves an in-flight slot for the pair, cancelling the oldest
// request when the pair is saturated.
func (c *Coordinator) admitLocked(ps *pairState) (context.Context, func()) {
	if len(ps.inflightOrder) >= c.cfg.MaxInflightPerPair {
		oldest := ps.inflightOrder[0]
		ps.inflightOrder = ps.inflightOrder[1:]
		if cancel, ok := ps.inflight[oldest]; ok {
			cancel()
			delete(ps.inflight, oldest)
		}
	}
	c.nextID++
	id := c.nextID
	ctx, cancel := context.WithCancel(c.ctx)
	ps.inflight[id] = cancel
	ps.inflightOrder = append(ps.inflightOrder, id)

	done := func() {
		c.mu.Lock()
		if cancelFn, ok := ps.inflight[id]; ok {
			cancelFn()
			delete(ps.inflight, id)
			for i, v := range ps.inflightOrder {
				if v == id {
					ps.inflightOrder = append(ps.inflightOrder[:i], ps.inflightOrder[i+1:]...)
					break
				}
			}
		}
		c.mu.Unlock()
	}
	return ctx, done
}

func (c *Coordinator) cancelAllLocked(ps *pairState) {
	for id, cancel := range ps.inflight {
		cancel()
		delete(ps.inflight, id)
	}
	ps.inflightOrder = nil
}

func (c *Coordinator) runPartial(parent context.Context, segmentID, text, target string) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.PartialTimeout)
	defer cancel()

	ev := Event{
		SegmentID:  segmentID,
		SourceLang: c.cfg.SourceLang,
		TargetLang: target,
		SourceText: text,
	}
	rendition, err := c.lookupOrTranslate(ctx, text, target, false)
	if err != nil {
		if parent.Err() != nil {
			// Superseded by newer text or session shutdown; the replacement
			// event is already on its way.
			return
		}
		// Never drop an interim silently: ship the source text and flag the
		// failure, same as a failed final.
		c.log.Warn().Err(err).Str("targetLang", target).Str("segmentId", segmentID).Msg("partial translation failed")
		ev.Text = text
		ev.TranslationError = true
		c.sink.EmitTranslation(ev)
		return
	}
	ev.Text = rendition
	ev.HasTranslation = true
	c.sink.EmitTranslation(ev)
}

func (c *Coordinator) runFinal(segmentID, commitID, text, target string, forced, continuation bool) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FinalTimeout)
	defer cancel()

	ev := Event{
		SegmentID:    segmentID,
		CommitID:     commitID,
		SourceLang:   c.cfg.SourceLang,
		TargetLang:   target,
		SourceText:   text,
		IsFinal:      true,
		Forced:       forced,
		Continuation: continuation,
	}
	rendition, err := c.lookupOrTranslate(ctx, text, target, true)
	if err != nil {
		// Never drop a committed transcript: ship the source text and flag
		// the failure.
		c.log.Warn().Err(err).Str("targetLang", target).Str("segmentId", segmentID).Msg("final translation failed")
		ev.Text = text
		ev.TranslationError = true
		c.sink.EmitTranslation(ev)
		return
	}
	ev.Text = rendition
	ev.HasTranslation = true
	c.sink.EmitTranslation(ev)
}

// runGrammar corrects the committed source text, emits the corrected form to
// source-language listeners when it differs, and returns it for the final
// translations to consume. On failure the original text comes back.
func (c *Coordinator) runGrammar(segmentID, commitID, text string, forced bool) string {
	corrected, err := c.translator.CorrectGrammar(c.ctx, text)
	if err != nil {
		c.log.Debug().Err(err).Str("segmentId", segmentID).Msg("grammar correction failed, keeping original")
		return text
	}
	if corrected == "" {
		return text
	}
	if corrected != text {
		c.sink.EmitTranslation(Event{
			SegmentID:      segmentID,
			CommitID:       commitID,
			SourceLang:     c.cfg.SourceLang,
			TargetLang:     c.cfg.SourceLang,
			SourceText:     text,
			Text:           corrected,
			IsFinal:        true,
			Forced:         forced,
			HasTranslation: true,
			UpdateType:     UpdateTypeGrammar,
		})
	}
	return corrected
}

func (c *Coordinator) lookupOrTranslate(ctx context.Context, text, target string, final bool) (string, error) {
	key := Key(c.cfg.SourceLang, target, text)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
	}
	var (
		out string
		err error
	)
	if final {
		out, err = c.translator.TranslateFinal(ctx, text, c.cfg.SourceLang, target)
	} else {
		out, err = c.translator.TranslatePartial(ctx, text, c.cfg.SourceLang, target)
	}
	if err != nil {
		return "", err
	}
	if c.cache != nil {
		ttl := PartialTTL
		if final {
			ttl = FinalTTL
		}
		c.cache.Put(key, out, ttl)
	}
	return out, nil
}
