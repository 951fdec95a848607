package mock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jkang1643/exbabel-relay/internal/asr"
)

// resultRecorder collects adapter output for assertions.
type resultRecorder struct {
	mu      sync.Mutex
	results []asr.Result
	errs    []error
}

func (r *resultRecorder) onResult(res asr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *resultRecorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *resultRecorder) snapshot() []asr.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]asr.Result{}, r.results...)
}

func startAdapter(t *testing.T, a *Adapter) *resultRecorder {
	t.Helper()
	rec := &resultRecorder{}
	a.OnResult(rec.onResult)
	a.OnError(rec.onError)
	if err := a.Initialize(context.Background(), "en", asr.Options{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return rec
}

func TestAdapter_RequiresInitialize(t *testing.T) {
	a := New()
	if err := a.ProcessAudio("AAAA"); !errors.Is(err, asr.ErrNotInitialized) {
		t.Errorf("uninitialized ProcessAudio = %v", err)
	}
}

func TestAdapter_ReplaysPartialsThenFinal(t *testing.T) {
	a := NewScripted([]Utterance{{
		Partials:   []string{"hello", "hello world"},
		Final:      "Hello, world.",
		Confidence: 0.9,
	}})
	rec := startAdapter(t, a)

	for i := 0; i < 3; i++ {
		if err := a.ProcessAudio("AAAA"); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}

	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("results = %d, want 3", len(got))
	}
	if !got[0].IsPartial || got[0].Text != "hello" {
		t.Errorf("first result = %+v", got[0])
	}
	if !got[1].IsPartial || got[1].Text != "hello world" {
		t.Errorf("second result = %+v", got[1])
	}
	if got[2].IsPartial || got[2].Text != "Hello, world." || got[2].Confidence != 0.9 {
		t.Errorf("final result = %+v", got[2])
	}
}

func TestAdapter_AdvancesThroughUtterances(t *testing.T) {
	a := NewScripted([]Utterance{
		{Partials: []string{"one"}, Final: "First."},
		{Partials: []string{"two"}, Final: "Second."},
	})
	rec := startAdapter(t, a)

	for i := 0; i < 5; i++ {
		_ = a.ProcessAudio("AAAA")
	}

	var finals []string
	for _, res := range rec.snapshot() {
		if !res.IsPartial {
			finals = append(finals, res.Text)
		}
	}
	if len(finals) != 2 || finals[0] != "First." || finals[1] != "Second." {
		t.Errorf("finals = %v", finals)
	}
	// Script exhausted; extra audio is accepted silently.
	if err := a.ProcessAudio("AAAA"); err != nil {
		t.Errorf("post-script chunk: %v", err)
	}
}

func TestAdapter_DirectEmitters(t *testing.T) {
	a := New()
	rec := startAdapter(t, a)

	a.EmitPartial("interim")
	a.EmitFinal("done.", 0.8)
	a.EmitForced("cut off mid")

	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("results = %d", len(got))
	}
	if !got[0].IsPartial {
		t.Error("EmitPartial not partial")
	}
	if got[1].IsPartial || got[1].Confidence != 0.8 {
		t.Errorf("EmitFinal = %+v", got[1])
	}
	if !got[2].Forced {
		t.Error("EmitForced not forced")
	}

	boom := errors.New("boom")
	a.EmitError(boom)
	rec.mu.Lock()
	errCount := len(rec.errs)
	rec.mu.Unlock()
	if errCount != 1 {
		t.Errorf("errors = %d", errCount)
	}
}

func TestAdapter_DestroyStopsEmission(t *testing.T) {
	a := New()
	rec := startAdapter(t, a)

	a.Destroy()
	if err := a.ProcessAudio("AAAA"); !errors.Is(err, asr.ErrDestroyed) {
		t.Errorf("destroyed ProcessAudio = %v", err)
	}
	a.EmitPartial("ghost")
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("results after destroy = %v", got)
	}
}
