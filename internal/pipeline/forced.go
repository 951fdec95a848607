package pipeline

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type forcedBuffer struct {
	segmentID string
	text      string
	at        time.Time
}

// ForcedCommitter buffers forced finals (partials flushed by a recognizer
// stream restart) so an utterance is not fragmented across the restart: the
// buffered text is merged with the next partial or final when possible, and
// committed on a safety timeout otherwise.
type ForcedCommitter struct {
	cfg      Config
	sched    Scheduler
	log      zerolog.Logger
	tracker  *Tracker
	segments *SegmentSource

	commit func(segmentID, text string, src Source) bool

	buf         *forcedBuffer
	cancelTimer func()
}

// OnForced handles a forced final emitted during a stream restart.
func (e *ForcedCommitter) OnForced(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if ext, ok := e.tracker.LongestExtends(text, e.cfg.LatestFreshness); ok {
		text = ext.Text
	}
	segID := e.segments.Current()
	if EndsWithCompleteSentence(text) {
		e.commitForced(segID, text)
		return
	}
	e.clearTimer()
	e.buf = &forcedBuffer{segmentID: segID, text: text, at: e.cfg.Now()}
	e.cancelTimer = e.sched.After(e.cfg.ForcedFinalMaxWait, e.onTimer)
}

// OnPartial gives a buffered forced final first claim on an incoming partial.
// It returns true when the partial was absorbed into a forced commit and
// should not be processed further.
func (e *ForcedCommitter) OnPartial(text string) bool {
	if e.buf == nil {
		return false
	}
	b := e.buf
	if Extends(text, b.text) {
		e.clear()
		e.commitForced(b.segmentID, text)
		return true
	}
	if merged, ok := MergeWithOverlap(b.text, text); ok {
		e.clear()
		e.commitForced(b.segmentID, merged)
		return true
	}
	// A new utterance started; flush the buffered text as-is and let the
	// partial proceed normally.
	e.clear()
	e.commitForced(b.segmentID, b.text)
	return false
}

// OnFinal merges a buffered forced final into an incoming recognizer final
// when the two overlap, returning the text the finalization engine should
// use. On a merge failure the buffered text commits on its own.
func (e *ForcedCommitter) OnFinal(text string) string {
	if e.buf == nil {
		return text
	}
	b := e.buf
	e.clear()
	if merged, ok := MergeWithOverlap(b.text, text); ok {
		return merged
	}
	e.commitForced(b.segmentID, b.text)
	return text
}

// Buffered reports whether a forced final is currently held.
func (e *ForcedCommitter) Buffered() bool {
	return e.buf != nil
}

// Flush commits any buffered forced final immediately.
func (e *ForcedCommitter) Flush() {
	if e.buf == nil {
		return
	}
	b := e.buf
	e.clear()
	e.commitForced(b.segmentID, b.text)
}

// Destroy cancels the safety timer and drops the buffer without committing.
func (e *ForcedCommitter) Destroy() {
	e.clear()
}

func (e *ForcedCommitter) onTimer() {
	e.cancelTimer = nil
	if e.buf == nil {
		return
	}
	b := e.buf
	e.buf = nil
	e.log.Debug().Str("segmentId", b.segmentID).Msg("forced final safety timeout, committing buffered text")
	e.commitForced(b.segmentID, b.text)
}

func (e *ForcedCommitter) commitForced(segmentID, text string) {
	e.commit(segmentID, text, SourceForced)
}

func (e *ForcedCommitter) clear() {
	e.buf = nil
	e.clearTimer()
}

func (e *ForcedCommitter) clearTimer() {
	if e.cancelTimer != nil {
		e.cancelTimer()
		e.cancelTimer = nil
	}
}
