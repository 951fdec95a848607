package pipeline

import (
	"testing"
	"time"
)

func newTestForced(t *testing.T) (*ForcedCommitter, *manualSched, *testClock, *[]commitRec) {
	t.Helper()
	clock := newTestClock()
	sched := newManualSched(clock)
	commits := &[]commitRec{}
	e := &ForcedCommitter{
		cfg:      testConfig(clock),
		sched:    sched,
		log:      testLogger(),
		tracker:  NewTracker(clock.Now),
		segments: NewSegmentSource("sess"),
		commit: func(seg, text string, src Source) bool {
			*commits = append(*commits, commitRec{seg, text, src})
			return true
		},
	}
	return e, sched, clock, commits
}

func TestForcedCommitsCompleteSentenceImmediately(t *testing.T) {
	e, _, _, commits := newTestForced(t)
	e.OnForced("And so it was finished.")
	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(*commits))
	}
	got := (*commits)[0]
	if got.text != "And so it was finished." || got.src != SourceForced {
		t.Errorf("commit = %+v", got)
	}
	if e.Buffered() {
		t.Error("nothing should remain buffered")
	}
}

func TestForcedUpgradesFromTrackedPartial(t *testing.T) {
	e, _, _, commits := newTestForced(t)
	e.tracker.UpdatePartial("For God so loved the world.")
	e.OnForced("For God so loved")
	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(*commits))
	}
	if got := (*commits)[0].text; got != "For God so loved the world." {
		t.Errorf("commit = %q", got)
	}
}

func TestForcedBuffersIncompleteAndAbsorbsExtendingPartial(t *testing.T) {
	e, _, _, commits := newTestForced(t)

	e.OnForced("For God so loved")
	if !e.Buffered() || len(*commits) != 0 {
		t.Fatal("incomplete forced final should buffer, not commit")
	}

	absorbed := e.OnPartial("For God so loved the world")
	if !absorbed {
		t.Error("extending partial should be absorbed")
	}
	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(*commits))
	}
	if got := (*commits)[0].text; got != "For God so loved the world" {
		t.Errorf("commit = %q", got)
	}
}

func TestForcedMergesIntoNextFinal(t *testing.T) {
	e, _, _, commits := newTestForced(t)

	e.OnForced("the quick brown fox")
	got := e.OnFinal("brown fox jumps over the lazy dog.")
	if got != "the quick brown fox jumps over the lazy dog." {
		t.Errorf("merged final = %q", got)
	}
	// The merge hands the text to the finalization engine; nothing commits
	// here.
	if len(*commits) != 0 {
		t.Errorf("unexpected commits: %+v", *commits)
	}
	if e.Buffered() {
		t.Error("buffer must clear after merge")
	}
}

func TestForcedUnrelatedFinalFlushesBuffer(t *testing.T) {
	e, _, _, commits := newTestForced(t)

	buffered := "please be seated everyone thank"
	next := "quarterly earnings exceeded expectations across all divisions this year."
	e.OnForced(buffered)
	got := e.OnFinal(next)
	if got != next {
		t.Errorf("unrelated final rewritten to %q", got)
	}
	if len(*commits) != 1 || (*commits)[0].text != buffered {
		t.Errorf("buffered text not flushed: %+v", *commits)
	}
}

func TestForcedSafetyTimerCommitsBuffer(t *testing.T) {
	e, sched, _, commits := newTestForced(t)

	e.OnForced("For God so loved")
	sched.advance(1400 * time.Millisecond)
	if len(*commits) != 0 {
		t.Fatal("committed before the safety timeout")
	}
	sched.advance(200 * time.Millisecond)
	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(*commits))
	}
	if got := (*commits)[0].text; got != "For God so loved" {
		t.Errorf("commit = %q", got)
	}
}

func TestForcedDestroyDropsBufferWithoutCommit(t *testing.T) {
	e, sched, _, commits := newTestForced(t)
	e.OnForced("For God so loved")
	e.Destroy()
	sched.advance(time.Minute)
	if len(*commits) != 0 {
		t.Errorf("destroy must not commit: %+v", *commits)
	}
}
