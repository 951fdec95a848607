// Package asr defines the recognizer adapter contract and the audio-side
// plumbing shared by its implementations: the jitter gate that smooths and
// retries microphone chunks, and the rolling buffer kept for post-hoc
// recovery transcription.
package asr

import (
	"context"
	"errors"
)

// Result is one labeled transcript fragment from the recognizer.
type Result struct {
	Text       string
	IsPartial  bool
	Confidence float64
	// Forced marks a final synthesized by the adapter itself from an
	// unacknowledged partial at the moment it restarted the stream.
	Forced bool
}

// ResultFunc receives recognizer results. Implementations must not block.
type ResultFunc func(Result)

// ErrorFunc receives fatal adapter errors (bad encoding, authentication).
// Transient stream errors are handled internally by restart and never reach
// this callback.
type ErrorFunc func(err error)

var (
	ErrUnsupportedLanguage = errors.New("asr: language not supported by recognizer")
	ErrNotInitialized      = errors.New("asr: adapter not initialized")
	ErrDestroyed           = errors.New("asr: adapter destroyed")
)

// Options configures a streaming recognition session.
type Options struct {
	SampleRateHertz          int
	FallbackToEnglish        bool
	AlternativeLanguageCodes []string
	EnableSpeakerDiarization bool
	MinSpeakers              int
	MaxSpeakers              int
	PhraseSetID              string
	ProjectID                string
	// UseEnhancedModel requests the enhanced recognition model; the adapter
	// downgrades transparently when the recognizer rejects it.
	UseEnhancedModel bool
}

// Adapter hides reconnects, chunk retries, and voice-activity restarts behind
// an ordered stream of partial, final, and forced results.
type Adapter interface {
	// Initialize prepares a streaming session with interim results enabled.
	Initialize(ctx context.Context, sourceLang string, opts Options) error

	// ProcessAudio enqueues one base64-encoded PCM chunk into the jitter gate.
	ProcessAudio(base64PCM string) error

	// OnResult registers the sink for transcript fragments.
	OnResult(fn ResultFunc)

	// OnError registers the sink for fatal errors.
	OnError(fn ErrorFunc)

	// ForceCommit is intentionally a no-op: restarting the recognizer on a
	// client hint loses words mid-flight, so the recognizer alone decides
	// when to finalize.
	ForceCommit()

	// Destroy releases all resources and cancels all timers.
	Destroy()
}
