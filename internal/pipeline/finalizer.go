package pipeline

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// pendingFinal is a recognizer final waiting out its window for late
// extensions before it becomes a commit candidate.
type pendingFinal struct {
	segmentID         string
	text              string
	firstAt           time.Time
	lastFinalAt       time.Time
	extendedWaitCount int
}

// Finalizer turns the stream of recognizer finals plus late partials into one
// ASR-final commit candidate per utterance, within a bounded deadline. All
// methods run on the session loop.
type Finalizer struct {
	cfg      Config
	sched    Scheduler
	log      zerolog.Logger
	tracker  *Tracker
	segments *SegmentSource

	// commit submits the candidate to the finality gate and reports whether
	// the segment finalized.
	commit func(segmentID, text string, src Source) bool

	pending     *pendingFinal
	deferred    []string
	cancelTimer func()
}

// waitWindow computes the base finalization wait for a final of this text.
func waitWindow(text string) time.Duration {
	n := len(text)
	var base time.Duration
	switch {
	case n > 300:
		w := 1000 + 3*(n-300)
		if w > 3500 {
			w = 3500
		}
		base = time.Duration(w) * time.Millisecond
	case n > 200:
		base = 1800 * time.Millisecond
	default:
		base = 1000 * time.Millisecond
	}
	if !EndsWithCompleteSentence(text) {
		ext := 20 * n
		if ext < 4000 {
			ext = 4000
		}
		if ext > 8000 {
			ext = 8000
		}
		if d := time.Duration(ext) * time.Millisecond; d > base {
			base = d
		}
	}
	if EndsMidWord(text) && base < 1200*time.Millisecond {
		base = 1200 * time.Millisecond
	}
	return base
}

// OnFinal handles a non-forced recognizer final.
func (f *Finalizer) OnFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	now := f.cfg.Now()

	if f.pending == nil {
		f.startPending(text, now)
		return
	}

	p := f.pending
	if Extends(text, p.text) {
		p.text = text
		p.lastFinalAt = now
		f.reschedule(waitWindow(text))
		return
	}

	sinceFinal := now.Sub(p.lastFinalAt)
	if sinceFinal < 600*time.Millisecond {
		// Two finals this close are usually the recognizer re-chunking one
		// utterance; reconcile by overlap before splitting segments.
		if merged, ok := MergeWithOverlap(p.text, text); ok {
			p.text = merged
			p.lastFinalAt = now
			f.reschedule(waitWindow(merged))
			return
		}
		f.commitPending()
		f.startPending(text, f.cfg.Now())
		return
	}

	if !EndsWithCompleteSentence(p.text) && p.extendedWaitCount == 0 && sinceFinal < 3*time.Second {
		if merged, ok := MergeWithOverlap(p.text, text); ok {
			p.text = merged
			p.lastFinalAt = now
			f.reschedule(waitWindow(merged))
			return
		}
		// Keep waiting for the pending final; hold the incoming one so it
		// opens the next segment after the commit.
		f.deferred = append(f.deferred, text)
		return
	}

	f.commitPending()
	f.startPending(text, f.cfg.Now())
}

// OnPartial handles a partial that arrived while a final may be pending.
// The tracker has already recorded it.
func (f *Finalizer) OnPartial(text string) {
	p := f.pending
	if p == nil {
		return
	}
	if Extends(text, p.text) {
		p.text = text
		f.reschedule(waitWindow(text))
		return
	}
	elapsed := f.cfg.Now().Sub(p.firstAt)
	if !EndsWithCompleteSentence(p.text) && elapsed < 5*time.Second {
		wait := 2500*time.Millisecond - elapsed
		if wait < time.Second {
			wait = time.Second
		}
		if remaining := f.cfg.MaxFinalizationWait - elapsed; wait > remaining {
			wait = remaining
		}
		if wait > 0 {
			p.extendedWaitCount++
			f.reschedule(wait)
		}
	}
}

// HasPending reports whether a final is currently waiting out its window.
func (f *Finalizer) HasPending() bool {
	return f.pending != nil
}

// Flush immediately commits any pending final. Used on session shutdown.
func (f *Finalizer) Flush() {
	if f.pending != nil {
		f.commitPending()
	}
}

// Destroy cancels the timer and drops all state.
func (f *Finalizer) Destroy() {
	f.clearTimer()
	f.pending = nil
	f.deferred = nil
}

func (f *Finalizer) startPending(text string, now time.Time) {
	segID := f.segments.Current()
	text = f.preExtend(text)
	f.pending = &pendingFinal{
		segmentID:   segID,
		text:        text,
		firstAt:     now,
		lastFinalAt: now,
	}
	f.reschedule(waitWindow(text))
}

// preExtend upgrades a final with the freshest partial that extends it, or
// failing that an overlap merge adding at least 3 characters.
func (f *Finalizer) preExtend(text string) string {
	if ext, ok := f.tracker.LongestExtends(text, f.cfg.LongestFreshness); ok {
		f.log.Debug().Str("recovered", ext.Missing).Msg("final extended from longest partial")
		return ext.Text
	}
	if ext, ok := f.tracker.LatestExtends(text, f.cfg.LatestFreshness); ok {
		f.log.Debug().Str("recovered", ext.Missing).Msg("final extended from latest partial")
		return ext.Text
	}
	snap := f.tracker.Snapshot()
	for _, cand := range []string{snap.LongestText, snap.LatestText} {
		if cand == "" {
			continue
		}
		if merged, ok := MergeWithOverlap(text, cand); ok && len(merged) >= len(text)+3 {
			return merged
		}
	}
	return text
}

func (f *Finalizer) onTimer() {
	p := f.pending
	if p == nil {
		return
	}
	f.cancelTimer = nil
	p.text = f.preExtend(p.text)

	elapsed := f.cfg.Now().Sub(p.firstAt)
	if EndsWithCompleteSentence(p.text) || elapsed >= f.cfg.MaxFinalizationWait {
		f.commitPending()
		return
	}
	remaining := f.cfg.MaxFinalizationWait - elapsed
	if remaining <= 0 {
		f.commitPending()
		return
	}
	if remaining > f.cfg.RescheduleCap {
		remaining = f.cfg.RescheduleCap
	}
	p.extendedWaitCount++
	f.reschedule(remaining)
}

func (f *Finalizer) commitPending() {
	p := f.pending
	if p == nil {
		return
	}
	f.clearTimer()
	f.pending = nil
	f.commit(p.segmentID, p.text, SourceAsrFinal)

	if len(f.deferred) > 0 {
		queued := f.deferred
		f.deferred = nil
		for _, t := range queued {
			f.OnFinal(t)
		}
	}
}

func (f *Finalizer) reschedule(d time.Duration) {
	f.clearTimer()
	f.cancelTimer = f.sched.After(d, f.onTimer)
}

func (f *Finalizer) clearTimer() {
	if f.cancelTimer != nil {
		f.cancelTimer()
		f.cancelTimer = nil
	}
}
