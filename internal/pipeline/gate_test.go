package pipeline

import (
	"testing"
	"time"
)

func newTestGate(t *testing.T, onWatchdog func(string, string)) (*Gate, *manualSched, *testClock) {
	t.Helper()
	clock := newTestClock()
	sched := newManualSched(clock)
	return NewGate(testConfig(clock), sched, testLogger(), onWatchdog), sched, clock
}

func TestGatePriorityOrder(t *testing.T) {
	g, _, clock := newTestGate(t, nil)

	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "grammar text", Source: SourceGrammar, At: clock.Now()})
	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "forced text", Source: SourceForced, At: clock.Now()})
	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "asr final text", Source: SourceAsrFinal, At: clock.Now()})
	// A lower-priority late arrival must not displace the ASR final.
	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "a much much longer recovery text", Source: SourceRecovery, At: clock.Now()})

	winner := g.FinalizeSegment("s1", "c1")
	if winner == nil {
		t.Fatal("expected a winner")
	}
	if winner.Source != SourceAsrFinal || winner.Text != "asr final text" {
		t.Errorf("winner = %q from %v", winner.Text, winner.Source)
	}
}

func TestGateSamePriorityPrefersLonger(t *testing.T) {
	g, _, clock := newTestGate(t, nil)
	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "short", Source: SourceForced, At: clock.Now()})
	res := g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "short but longer", Source: SourceForced, At: clock.Now()})
	if !res.Accepted {
		t.Error("longer same-priority candidate should be accepted")
	}
	res = g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "tiny", Source: SourceForced, At: clock.Now()})
	if res.Accepted {
		t.Error("shorter same-priority candidate should be rejected")
	}
}

func TestGateRecoveryDominance(t *testing.T) {
	g, _, clock := newTestGate(t, nil)
	g.MarkRecoveryPending("s1")

	if g.CanCommit(Candidate{SegmentID: "s1", Source: SourceForced}) {
		t.Error("forced must not commit while recovery pending")
	}
	if g.CanCommit(Candidate{SegmentID: "s1", Source: SourceGrammar}) {
		t.Error("grammar must not commit while recovery pending")
	}
	if !g.CanCommit(Candidate{SegmentID: "s1", Source: SourceAsrFinal}) {
		t.Error("asr final may always commit")
	}
	if !g.CanCommit(Candidate{SegmentID: "s1", Source: SourceRecovery}) {
		t.Error("recovery may always commit")
	}

	// The blocked forced candidate is retained and wins once recovery
	// resolves without producing anything better.
	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "forced text", Source: SourceForced, At: clock.Now()})
	best := g.MarkRecoveryComplete("s1")
	if best == nil || best.Text != "forced text" {
		t.Fatalf("best after recovery = %+v", best)
	}
	if !g.CanCommit(Candidate{SegmentID: "s1", Source: SourceForced}) {
		t.Error("forced may commit after recovery resolves")
	}
}

func TestGateFinalizeWithoutCandidate(t *testing.T) {
	g, _, _ := newTestGate(t, nil)
	if w := g.FinalizeSegment("s1", "c1"); w != nil {
		t.Errorf("finalize with no candidate = %+v, want nil", w)
	}
	if g.IsFinalized("s1") {
		t.Error("segment must not be finalized without a candidate")
	}
}

func TestGateExactlyOneCommit(t *testing.T) {
	g, _, clock := newTestGate(t, nil)
	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "text", Source: SourceAsrFinal, At: clock.Now()})

	if w := g.FinalizeSegment("s1", "c1"); w == nil {
		t.Fatal("first finalize should win")
	}
	if w := g.FinalizeSegment("s1", "c2"); w != nil {
		t.Errorf("second finalize = %+v, want nil", w)
	}

	// Candidates after finalization are rejected outright.
	res := g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "late recovery", Source: SourceRecovery, At: clock.Now()})
	if res.Accepted || res.CanCommit {
		t.Errorf("post-finalize submit = %+v", res)
	}

	g.MarkCommitted("s1", "c1")
	if got := g.CommittedCount("s1"); got != 1 {
		t.Errorf("committed count = %d", got)
	}
}

func TestGateWatchdogRepostsUncommittedFinal(t *testing.T) {
	var gotSeg, gotText string
	fired := 0
	g, sched, clock := newTestGate(t, func(seg, text string) {
		gotSeg, gotText = seg, text
		fired++
	})

	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "lost text", Source: SourceAsrFinal, At: clock.Now()})
	g.FinalizeSegment("s1", "c1")

	sched.advance(6 * time.Second)
	if fired != 1 {
		t.Fatalf("watchdog fired %d times, want 1", fired)
	}
	if gotSeg != "s1" || gotText != "lost text" {
		t.Errorf("watchdog got (%q, %q)", gotSeg, gotText)
	}
	if g.IsFinalized("s1") {
		t.Error("watchdog must reopen the segment for a retry")
	}
}

func TestGateWatchdogDisarmedByCommit(t *testing.T) {
	fired := 0
	g, sched, clock := newTestGate(t, func(string, string) { fired++ })

	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "text", Source: SourceAsrFinal, At: clock.Now()})
	g.FinalizeSegment("s1", "c1")
	g.MarkCommitted("s1", "c1")

	sched.advance(time.Minute)
	if fired != 0 {
		t.Errorf("watchdog fired %d times after commit", fired)
	}
}

func TestGateCloseSegment(t *testing.T) {
	g, _, clock := newTestGate(t, nil)
	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "pending text", Source: SourceForced, At: clock.Now()})

	w := g.CloseSegment("s1")
	if w == nil || w.Text != "pending text" {
		t.Fatalf("close winner = %+v", w)
	}
	// Idempotent.
	if w := g.CloseSegment("s1"); w != nil {
		t.Errorf("second close = %+v, want nil", w)
	}
}

func TestGateCloseDeferredWhileRecoveryPending(t *testing.T) {
	g, _, clock := newTestGate(t, nil)
	g.MarkRecoveryPending("s1")
	g.SubmitCandidate(Candidate{SegmentID: "s1", Text: "text", Source: SourceForced, At: clock.Now()})

	if w := g.CloseSegment("s1"); w != nil {
		t.Errorf("close during recovery = %+v, want nil", w)
	}
	if g.IsFinalized("s1") {
		t.Error("segment must stay open until recovery resolves")
	}

	best := g.MarkRecoveryComplete("s1")
	if best == nil {
		t.Fatal("recovery completion should surface the held candidate")
	}
	if w := g.CloseSegment("s1"); w == nil || w.Text != "text" {
		t.Errorf("close after recovery = %+v", w)
	}
}
