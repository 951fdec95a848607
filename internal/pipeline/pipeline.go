package pipeline

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// CommitSink receives the pipeline's output: interim partials for the open
// segment, and exactly one committed final per segment. Implemented by the
// session's translation coordinator.
type CommitSink interface {
	EmitPartial(segmentID, text string)
	CommitFinal(c Candidate, commitID string)
}

// Pipeline wires the partial tracker, finalization engine, forced-commit
// engine, and finality gate for one session. Every entry point must be
// invoked on the session's serialized loop.
type Pipeline struct {
	cfg   Config
	log   zerolog.Logger
	sink  CommitSink
	gate  *Gate
	fin   *Finalizer
	force *ForcedCommitter

	tracker  *Tracker
	segments *SegmentSource

	commitSeq uint64
}

// New builds a pipeline for the session.
func New(cfg Config, sched Scheduler, log zerolog.Logger, sessionID string, sink CommitSink) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:      cfg,
		log:      log,
		sink:     sink,
		tracker:  NewTracker(cfg.Now),
		segments: NewSegmentSource(sessionID),
	}
	p.gate = NewGate(cfg, sched, log, p.onRecoveryWatchdog)
	p.fin = &Finalizer{
		cfg:      cfg,
		sched:    sched,
		log:      log,
		tracker:  p.tracker,
		segments: p.segments,
		commit:   p.commitCandidate,
	}
	p.force = &ForcedCommitter{
		cfg:      cfg,
		sched:    sched,
		log:      log,
		tracker:  p.tracker,
		segments: p.segments,
		commit:   p.commitCandidate,
	}
	return p
}

// Gate exposes the finality gate for recovery producers and the broadcaster.
func (p *Pipeline) Gate() *Gate {
	return p.gate
}

// Tracker exposes the partial tracker.
func (p *Pipeline) Tracker() *Tracker {
	return p.tracker
}

// CurrentSegmentID returns the open segment, allocating one if needed.
func (p *Pipeline) CurrentSegmentID() string {
	return p.segments.Current()
}

// HandlePartial processes an interim recognizer result.
func (p *Pipeline) HandlePartial(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if p.force.OnPartial(text) {
		return
	}
	p.tracker.UpdatePartial(text)
	p.fin.OnPartial(text)
	p.sink.EmitPartial(p.segments.Current(), text)
}

// HandleFinal processes a committed recognizer result.
func (p *Pipeline) HandleFinal(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	text = p.force.OnFinal(text)
	p.fin.OnFinal(text)
}

// HandleForced processes a forced final flushed by a recognizer restart.
func (p *Pipeline) HandleForced(text string) {
	p.force.OnForced(text)
}

// MarkRecoveryPending blocks grammar/forced commits for the segment while an
// out-of-band recovery transcription is in flight.
func (p *Pipeline) MarkRecoveryPending(segmentID string) {
	p.gate.MarkRecoveryPending(segmentID)
}

// ResolveRecovery submits the recovered text (may be empty on failure) and
// finalizes the segment's best candidate if one is waiting.
func (p *Pipeline) ResolveRecovery(segmentID, text string) {
	if strings.TrimSpace(text) != "" {
		p.gate.SubmitCandidate(Candidate{
			SegmentID: segmentID,
			Text:      text,
			Source:    SourceRecovery,
			At:        p.cfg.Now(),
		})
	}
	if best := p.gate.MarkRecoveryComplete(segmentID); best != nil {
		p.finalize(segmentID)
	}
}

// Flush commits all pending state. Called when the host signals audio_end or
// the session closes.
func (p *Pipeline) Flush() {
	p.force.Flush()
	p.fin.Flush()
}

// Destroy cancels every timer. The pipeline must not be used afterwards.
func (p *Pipeline) Destroy() {
	p.fin.Destroy()
	p.force.Destroy()
	p.gate.Destroy()
}

// commitCandidate submits a candidate and finalizes the segment when the
// gate allows it. Returns true when the segment finalized.
func (p *Pipeline) commitCandidate(segmentID, text string, src Source) bool {
	res := p.gate.SubmitCandidate(Candidate{
		SegmentID: segmentID,
		Text:      text,
		Source:    src,
		At:        p.cfg.Now(),
	})
	if !res.CanCommit {
		return false
	}
	return p.finalize(segmentID)
}

func (p *Pipeline) finalize(segmentID string) bool {
	commitID := p.nextCommitID(segmentID)
	winner := p.gate.FinalizeSegment(segmentID, commitID)
	if winner == nil {
		return false
	}
	if segmentID == p.segments.current {
		p.segments.Advance()
		p.tracker.Reset()
	}
	p.sink.CommitFinal(*winner, commitID)
	return true
}

func (p *Pipeline) onRecoveryWatchdog(segmentID, text string) {
	p.gate.SubmitCandidate(Candidate{
		SegmentID: segmentID,
		Text:      text,
		Source:    SourceRecovery,
		At:        p.cfg.Now(),
	})
	p.finalize(segmentID)
}

func (p *Pipeline) nextCommitID(segmentID string) string {
	n := atomic.AddUint64(&p.commitSeq, 1)
	return fmt.Sprintf("%s-commit-%d", segmentID, n)
}
