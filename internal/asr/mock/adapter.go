// Package mock provides a scriptable recognizer adapter for tests and for
// running the relay without cloud credentials. Tests drive it directly with
// EmitPartial/EmitFinal/EmitForced; standalone mode replays canned utterances
// as audio arrives.
package mock

import (
	"context"
	"sync"

	"github.com/jkang1643/exbabel-relay/internal/asr"
)

// Utterance is one canned exchange: progressive partials then a single final.
type Utterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances replay when the adapter is fed audio without a script.
var DefaultUtterances = []Utterance{
	{
		Partials:   []string{"In the", "In the beginning", "In the beginning God created"},
		Final:      "In the beginning God created the heavens and the earth.",
		Confidence: 0.95,
	},
	{
		Partials:   []string{"Let us", "Let us turn to", "Let us turn to John chapter"},
		Final:      "Let us turn to John chapter three verse sixteen.",
		Confidence: 0.93,
	},
	{
		Partials:   []string{"Grace and", "Grace and peace to"},
		Final:      "Grace and peace to you all.",
		Confidence: 0.97,
	},
}

// Adapter implements asr.Adapter without a recognizer behind it.
type Adapter struct {
	mu          sync.Mutex
	onResult    asr.ResultFunc
	onError     asr.ErrorFunc
	initialized bool
	destroyed   bool

	utterances   []Utterance
	utteranceIdx int
	partialIdx   int

	audioChunks int
}

// New creates a mock adapter replaying DefaultUtterances.
func New() *Adapter {
	return &Adapter{utterances: DefaultUtterances}
}

// NewScripted creates a mock adapter replaying the given utterances.
func NewScripted(utterances []Utterance) *Adapter {
	return &Adapter{utterances: utterances}
}

// Initialize accepts any language.
func (a *Adapter) Initialize(ctx context.Context, sourceLang string, opts asr.Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return asr.ErrDestroyed
	}
	a.initialized = true
	return nil
}

// ProcessAudio counts a chunk and advances the current utterance: one partial
// per chunk, then the final once partials are exhausted.
func (a *Adapter) ProcessAudio(base64PCM string) error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return asr.ErrDestroyed
	}
	if !a.initialized {
		a.mu.Unlock()
		return asr.ErrNotInitialized
	}
	a.audioChunks++

	if a.utteranceIdx >= len(a.utterances) {
		a.mu.Unlock()
		return nil
	}
	utt := a.utterances[a.utteranceIdx]
	var out *asr.Result
	if a.partialIdx < len(utt.Partials) {
		out = &asr.Result{Text: utt.Partials[a.partialIdx], IsPartial: true}
		a.partialIdx++
	} else {
		out = &asr.Result{Text: utt.Final, Confidence: utt.Confidence}
		a.utteranceIdx++
		a.partialIdx = 0
	}
	fn := a.onResult
	a.mu.Unlock()

	if out != nil && fn != nil {
		fn(*out)
	}
	return nil
}

// OnResult registers the transcript sink.
func (a *Adapter) OnResult(fn asr.ResultFunc) {
	a.mu.Lock()
	a.onResult = fn
	a.mu.Unlock()
}

// OnError registers the error sink.
func (a *Adapter) OnError(fn asr.ErrorFunc) {
	a.mu.Lock()
	a.onError = fn
	a.mu.Unlock()
}

// ForceCommit is a no-op, matching the production adapter.
func (a *Adapter) ForceCommit() {}

// Destroy marks the adapter unusable.
func (a *Adapter) Destroy() {
	a.mu.Lock()
	a.destroyed = true
	a.mu.Unlock()
}

// AudioChunks reports how many chunks ProcessAudio accepted.
func (a *Adapter) AudioChunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audioChunks
}

// EmitPartial injects an interim result directly.
func (a *Adapter) EmitPartial(text string) {
	a.emit(asr.Result{Text: text, IsPartial: true})
}

// EmitFinal injects a committed result directly.
func (a *Adapter) EmitFinal(text string, confidence float64) {
	a.emit(asr.Result{Text: text, Confidence: confidence})
}

// EmitForced injects a forced final, as a restart would.
func (a *Adapter) EmitForced(text string) {
	a.emit(asr.Result{Text: text, Forced: true})
}

// EmitError injects a fatal error.
func (a *Adapter) EmitError(err error) {
	a.mu.Lock()
	fn := a.onError
	a.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (a *Adapter) emit(r asr.Result) {
	a.mu.Lock()
	fn := a.onResult
	destroyed := a.destroyed
	a.mu.Unlock()
	if fn != nil && !destroyed {
		fn(r)
	}
}
