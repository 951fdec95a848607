package pipeline

import (
	"testing"
	"time"
)

type commitRec struct {
	segmentID string
	text      string
	src       Source
}

func newTestFinalizer(t *testing.T) (*Finalizer, *manualSched, *testClock, *[]commitRec) {
	t.Helper()
	clock := newTestClock()
	sched := newManualSched(clock)
	commits := &[]commitRec{}
	f := &Finalizer{
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
	return f, sched, clock, commits
}

func TestWaitWindow(t *testing.T) {
	cases := []struct {
		text string
		want time.Duration
	}{
		{"Short and done.", 1000 * time.Millisecond},
		{"The Lord is", 4000 * time.Millisecond}, // incomplete, floor 4s
	}
	for _, c := range cases {
		if got := waitWindow(c.text); got != c.want {
			t.Errorf("waitWindow(%q) = %v, want %v", c.text, got, c.want)
		}
	}

	// A long incomplete text scales at 20ms per character, capped at 8s.
	long := make([]byte, 350)
	for i := range long {
		long[i] = 'a'
	}
	if got := waitWindow(string(long)); got != 7*time.Second {
		t.Errorf("waitWindow(350 incomplete chars) = %v, want 7s", got)
	}
	longer := string(long) + string(long)
	if got := waitWindow(longer); got != 8*time.Second {
		t.Errorf("waitWindow(700 incomplete chars) = %v, want 8s", got)
	}
}

func TestFinalizerCommitsCompleteSentenceAfterWindow(t *testing.T) {
	f, sched, _, commits := newTestFinalizer(t)

	f.OnFinal("It is finished.")
	if len(*commits) != 0 {
		t.Fatal("must not commit before the wait window")
	}
	sched.advance(1100 * time.Millisecond)

	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(*commits))
	}
	got := (*commits)[0]
	if got.text != "It is finished." || got.src != SourceAsrFinal {
		t.Errorf("commit = %+v", got)
	}
}

func TestFinalizerExtensionFinalReplacesPending(t *testing.T) {
	f, sched, _, commits := newTestFinalizer(t)

	f.OnFinal("For God so loved")
	sched.advance(500 * time.Millisecond)
	f.OnFinal("For God so loved the world.")
	sched.advance(2 * time.Second)

	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(*commits))
	}
	if (*commits)[0].text != "For God so loved the world." {
		t.Errorf("commit text = %q", (*commits)[0].text)
	}
}

func TestFinalizerMergesRechunkedFinals(t *testing.T) {
	f, sched, _, commits := newTestFinalizer(t)

	f.OnFinal("the quick brown fox")
	sched.advance(300 * time.Millisecond)
	f.OnFinal("brown fox jumps over the lazy dog.")
	sched.advance(2 * time.Second)

	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(*commits))
	}
	if got := (*commits)[0].text; got != "the quick brown fox jumps over the lazy dog." {
		t.Errorf("merged commit = %q", got)
	}
}

func TestFinalizerPreExtendsFromTrackedPartial(t *testing.T) {
	f, sched, _, commits := newTestFinalizer(t)

	full := "In the beginning God created the heavens and the earth."
	f.tracker.UpdatePartial(full)
	// The recognizer's final lost the tail the partial already showed.
	f.OnFinal("In the beginning God created")
	sched.advance(1500 * time.Millisecond)

	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(*commits))
	}
	if got := (*commits)[0].text; got != full {
		t.Errorf("commit = %q, want %q", got, full)
	}
}

func TestFinalizerIncompleteHitsMaxWaitCeiling(t *testing.T) {
	f, sched, _, commits := newTestFinalizer(t)

	f.OnFinal("The Lord is")
	sched.advance(9900 * time.Millisecond)
	if len(*commits) != 0 {
		t.Fatalf("committed before the ceiling: %+v", *commits)
	}
	sched.advance(200 * time.Millisecond)
	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1 at the ceiling", len(*commits))
	}
	if got := (*commits)[0].text; got != "The Lord is" {
		t.Errorf("commit = %q", got)
	}
}

func TestFinalizerPartialExtendsPending(t *testing.T) {
	f, sched, _, commits := newTestFinalizer(t)

	f.OnFinal("For God so loved")
	f.tracker.UpdatePartial("For God so loved the world.")
	f.OnPartial("For God so loved the world.")
	sched.advance(2 * time.Second)

	if len(*commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(*commits))
	}
	if got := (*commits)[0].text; got != "For God so loved the world." {
		t.Errorf("commit = %q", got)
	}
}

func TestFinalizerDefersUnmergeableFinal(t *testing.T) {
	f, sched, _, commits := newTestFinalizer(t)

	first := "please be seated everyone thank"
	second := "quarterly earnings exceeded expectations across all divisions this year."
	f.OnFinal(first)
	sched.advance(time.Second)
	f.OnFinal(second)

	// The unrelated final waits; the pending one still owns the window.
	if len(*commits) != 0 {
		t.Fatalf("early commits: %+v", *commits)
	}
	if !f.HasPending() {
		t.Fatal("pending final dropped")
	}

	sched.advance(15 * time.Second)
	if len(*commits) != 2 {
		t.Fatalf("commits = %d, want 2", len(*commits))
	}
	if (*commits)[0].text != first || (*commits)[1].text != second {
		t.Errorf("commit order = %q, %q", (*commits)[0].text, (*commits)[1].text)
	}
}

func TestFinalizerFlush(t *testing.T) {
	f, _, _, commits := newTestFinalizer(t)
	f.OnFinal("cut off mid")
	f.Flush()
	if len(*commits) != 1 {
		t.Fatalf("flush commits = %d, want 1", len(*commits))
	}
	if f.HasPending() {
		t.Error("pending must clear on flush")
	}
}
