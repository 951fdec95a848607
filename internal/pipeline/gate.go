package pipeline

import (
	"time"

	"github.com/rs/zerolog"
)

// Source identifies the producer of a commit candidate. Ordering is the
// commit priority: a higher value displaces a lower one for the same segment.
type Source int

const (
	SourceGrammar Source = iota
	SourceForced
	SourceRecovery
	SourceAsrFinal
)

func (s Source) String() string {
	switch s {
	case SourceGrammar:
		return "grammar"
	case SourceForced:
		return "forced"
	case SourceRecovery:
		return "recovery"
	case SourceAsrFinal:
		return "asr_final"
	default:
		return "unknown"
	}
}

// Candidate is a proposed final text for a segment.
type Candidate struct {
	SegmentID string
	Text      string
	Source    Source
	At        time.Time
}

// SubmitResult reports whether a candidate was retained as the segment's best
// and whether the submitting producer may finalize now.
type SubmitResult struct {
	Accepted  bool
	CanCommit bool
}

type segmentState struct {
	recoveryPending     bool
	recoveryResolved    bool
	best                *Candidate
	finalized           bool
	closed              bool
	committedFinalCount int
	sawFinalFromASR     bool
	sawRecoveryResolved bool
	finalizedText       string
	finalizeCommitID    string
	finalizedAt         time.Time
	cancelWatchdog      func()
}

// Gate is the per-segment arbiter: it enforces the producer priority order
// and the one-commit-per-segment invariant across the grammar, forced,
// recovery, and ASR-final producers. All calls happen on the session loop.
type Gate struct {
	cfg      Config
	sched    Scheduler
	log      zerolog.Logger
	segments map[string]*segmentState

	// onWatchdog re-posts a finalized-but-never-committed text as a recovery
	// candidate so finalization can be retried.
	onWatchdog func(segmentID, text string)
}

// NewGate creates a finality gate. onWatchdog may be nil.
func NewGate(cfg Config, sched Scheduler, log zerolog.Logger, onWatchdog func(segmentID, text string)) *Gate {
	return &Gate{
		cfg:        cfg.withDefaults(),
		sched:      sched,
		log:        log,
		segments:   make(map[string]*segmentState),
		onWatchdog: onWatchdog,
	}
}

func (g *Gate) state(segmentID string) *segmentState {
	st, ok := g.segments[segmentID]
	if !ok {
		st = &segmentState{}
		g.segments[segmentID] = st
	}
	return st
}

// MarkRecoveryPending blocks grammar and forced commits for the segment until
// recovery resolves.
func (g *Gate) MarkRecoveryPending(segmentID string) {
	g.state(segmentID).recoveryPending = true
}

// MarkRecoveryComplete clears the pending flag. If the segment already holds
// a best candidate and is not finalized, that candidate is returned so the
// caller can finalize immediately instead of waiting for another producer.
func (g *Gate) MarkRecoveryComplete(segmentID string) *Candidate {
	st := g.state(segmentID)
	st.recoveryPending = false
	st.recoveryResolved = true
	st.sawRecoveryResolved = true
	if st.best != nil && !st.finalized {
		c := *st.best
		return &c
	}
	return nil
}

// CanCommit reports whether a candidate from the given source may finalize
// the segment right now. Recovery and ASR finals always may; grammar and
// forced are held back while recovery is pending.
func (g *Gate) CanCommit(c Candidate) bool {
	st := g.state(c.SegmentID)
	if st.finalized {
		return false
	}
	if c.Source == SourceRecovery || c.Source == SourceAsrFinal {
		return true
	}
	return !st.recoveryPending
}

// SubmitCandidate records c as the segment's best candidate when it is
// strictly better than the current one: higher priority, or same priority
// with longer text.
func (g *Gate) SubmitCandidate(c Candidate) SubmitResult {
	st := g.state(c.SegmentID)
	if c.Source == SourceAsrFinal {
		st.sawFinalFromASR = true
	}
	if st.finalized || st.closed {
		return SubmitResult{Accepted: false, CanCommit: false}
	}
	accepted := false
	if st.best == nil || betterCandidate(c, *st.best) {
		cc := c
		st.best = &cc
		accepted = true
	}
	return SubmitResult{Accepted: accepted, CanCommit: g.CanCommit(c)}
}

func betterCandidate(c, best Candidate) bool {
	if c.Source != best.Source {
		return c.Source > best.Source
	}
	return len(c.Text) > len(best.Text)
}

// FinalizeSegment marks the segment finalized and returns the winning
// candidate, or nil when no candidate was ever submitted. A recovery
// watchdog is armed: if the broadcaster never confirms the commit, the
// finalized text is re-posted as a recovery candidate.
func (g *Gate) FinalizeSegment(segmentID, commitID string) *Candidate {
	st := g.state(segmentID)
	if st.finalized || st.best == nil {
		return nil
	}
	st.finalized = true
	st.recoveryPending = false
	st.finalizedText = st.best.Text
	st.finalizeCommitID = commitID
	st.finalizedAt = g.cfg.Now()

	seg, text := segmentID, st.best.Text
	if g.sched != nil {
		st.cancelWatchdog = g.sched.After(g.cfg.RecoveryTimeout, func() {
			g.watchdogFire(seg, text)
		})
	}
	winner := *st.best
	return &winner
}

func (g *Gate) watchdogFire(segmentID, text string) {
	st := g.state(segmentID)
	if st.committedFinalCount > 0 {
		return
	}
	g.log.Warn().
		Str("segmentId", segmentID).
		Msg("finalized segment never committed, re-posting as recovery candidate")
	st.finalized = false
	st.best = nil
	if g.onWatchdog != nil {
		g.onWatchdog(segmentID, text)
	}
}

// MarkCommitted is called by the broadcaster after the final event went out.
// It disarms the watchdog and asserts the exactly-one-commit invariant.
func (g *Gate) MarkCommitted(segmentID, commitID string) {
	st := g.state(segmentID)
	st.committedFinalCount++
	if st.cancelWatchdog != nil {
		st.cancelWatchdog()
		st.cancelWatchdog = nil
	}
	if (st.sawFinalFromASR || st.sawRecoveryResolved) && st.committedFinalCount != 1 {
		// Bug signal, not a user-visible fault.
		g.log.Error().
			Str("segmentId", segmentID).
			Str("commitId", commitID).
			Int("committedFinalCount", st.committedFinalCount).
			Msg("segment committed more than once")
	}
}

// CommittedCount returns how many finals were confirmed for the segment.
func (g *Gate) CommittedCount(segmentID string) int {
	return g.state(segmentID).committedFinalCount
}

// IsFinalized reports whether the segment has been finalized.
func (g *Gate) IsFinalized(segmentID string) bool {
	return g.state(segmentID).finalized
}

// CloseSegment finalizes any best candidate and marks the segment closed.
// Idempotent. If recovery is still pending the close is deferred until
// MarkRecoveryComplete or the watchdog resolves it.
func (g *Gate) CloseSegment(segmentID string) *Candidate {
	st := g.state(segmentID)
	if st.closed {
		return nil
	}
	if st.recoveryPending {
		return nil
	}
	var winner *Candidate
	if !st.finalized && st.best != nil {
		winner = g.FinalizeSegment(segmentID, commitIDFor(segmentID, "close"))
	}
	st.closed = true
	return winner
}

// Destroy cancels every armed watchdog. Called on session teardown.
func (g *Gate) Destroy() {
	for _, st := range g.segments {
		if st.cancelWatchdog != nil {
			st.cancelWatchdog()
			st.cancelWatchdog = nil
		}
	}
}

func commitIDFor(segmentID, reason string) string {
	return segmentID + "-" + reason
}
