// Package google implements the recognizer adapter on Google Cloud
// Speech-to-Text streaming recognition.
package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jkang1643/exbabel-relay/internal/asr"
)

const defaultSampleRateHertz = 16000

// supportedLanguages maps short codes to the BCP-47 codes the recognizer
// accepts for streaming with interim results.
var supportedLanguages = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"pt": "pt-BR",
	"nl": "nl-NL",
	"ru": "ru-RU",
	"uk": "uk-UA",
	"pl": "pl-PL",
	"ro": "ro-RO",
	"hi": "hi-IN",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"zh": "cmn-Hans-CN",
	"ar": "ar-XA",
	"tr": "tr-TR",
	"vi": "vi-VN",
	"id": "id-ID",
	"sw": "sw-KE",
}

// ResolveLanguage maps a short or full language code to the recognizer code.
// Falls back to en-US when allowed, otherwise reports the language as
// unsupported.
func ResolveLanguage(lang string, fallbackToEnglish bool) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if code, ok := supportedLanguages[lang]; ok {
		return code, nil
	}
	// Full codes like "en-GB" pass through when the base language is known.
	if i := strings.IndexByte(lang, '-'); i > 0 {
		if _, ok := supportedLanguages[lang[:i]]; ok {
			return lang[:i+1] + strings.ToUpper(lang[i+1:]), nil
		}
	}
	if fallbackToEnglish {
		return "en-US", nil
	}
	return "", fmt.Errorf("%w: %q", asr.ErrUnsupportedLanguage, lang)
}

// Adapter streams audio to Google Cloud Speech-to-Text and hides stream
// restarts behind the asr.Adapter contract. One adapter serves one session.
type Adapter struct {
	log    zerolog.Logger
	client *speech.Client

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	stream      speechpb.Speech_StreamingRecognizeClient
	streamGen   int
	langCode    string
	opts        asr.Options
	initialized bool
	destroyed   bool

	// The enhanced model and phrase-set adaptation are dropped after the
	// recognizer rejects them, so a restart can succeed with plain config.
	useEnhanced bool
	phraseSetID string
	downgraded  bool

	gate   *asr.JitterGate
	buffer *asr.RollingBuffer

	onResult asr.ResultFunc
	onError  asr.ErrorFunc

	lastPartial   string
	lastPartialAt time.Time
}

// New creates an adapter backed by a shared speech client. credentialsFile
// points at a service-account JSON; empty falls back to application default
// credentials.
func New(ctx context.Context, credentialsFile string, log zerolog.Logger) (*Adapter, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithClient(c, log), nil
}

// NewWithClient creates an adapter on an existing client. The caller owns the
// client's lifetime.
func NewWithClient(c *speech.Client, log zerolog.Logger) *Adapter {
	a := &Adapter{
		log:    log.With().Str("component", "asr.google").Logger(),
		client: c,
		buffer: asr.NewRollingBuffer(asr.DefaultRollingWindow),
	}
	a.gate = asr.NewJitterGate(a.log, a.writeAudio, a.onTimeoutBurst)
	return a
}

// RollingBuffer exposes the recent-audio window for recovery transcription.
func (a *Adapter) RollingBuffer() *asr.RollingBuffer {
	return a.buffer
}

// Initialize resolves the language, opens the streaming session, and starts
// the receive loop.
func (a *Adapter) Initialize(ctx context.Context, sourceLang string, opts asr.Options) error {
	code, err := ResolveLanguage(sourceLang, opts.FallbackToEnglish)
	if err != nil {
		return err
	}
	if opts.SampleRateHertz == 0 {
		opts.SampleRateHertz = defaultSampleRateHertz
	}

	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return asr.ErrDestroyed
	}
	a.langCode = code
	a.opts = opts
	a.useEnhanced = opts.UseEnhancedModel
	a.phraseSetID = opts.PhraseSetID
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.initialized = true
	a.mu.Unlock()

	return a.openStream()
}

// OnResult registers the transcript sink.
func (a *Adapter) OnResult(fn asr.ResultFunc) {
	a.mu.Lock()
	a.onResult = fn
	a.mu.Unlock()
}

// OnError registers the fatal-error sink.
func (a *Adapter) OnError(fn asr.ErrorFunc) {
	a.mu.Lock()
	a.onError = fn
	a.mu.Unlock()
}

// ProcessAudio decodes one base64 PCM chunk and hands it to the jitter gate.
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
	a.mu.Unlock()

	data, err := base64.StdEncoding.DecodeString(base64PCM)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}
	a.gate.Enqueue(data)
	return nil
}

// ForceCommit is a deliberate no-op: tearing down the stream on a client hint
// loses in-flight words. Forced finals only happen on adapter-driven restarts.
func (a *Adapter) ForceCommit() {}

// Destroy cancels the stream, the jitter gate, and every timer.
func (a *Adapter) Destroy() {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.destroyed = true
	cancel := a.cancel
	stream := a.stream
	a.stream = nil
	a.mu.Unlock()

	a.gate.Close()
	if stream != nil {
		_ = stream.CloseSend()
	}
	if cancel != nil {
		cancel()
	}
	a.buffer.Clear()
}

func (a *Adapter) recognitionConfig() *speechpb.RecognitionConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(a.opts.SampleRateHertz),
		LanguageCode:               a.langCode,
		AlternativeLanguageCodes:   a.opts.AlternativeLanguageCodes,
		EnableAutomaticPunctuation: true,
	}
	if a.useEnhanced {
		cfg.UseEnhanced = true
		cfg.Model = "latest_long"
	}
	if a.opts.EnableSpeakerDiarization {
		cfg.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(a.opts.MinSpeakers),
			MaxSpeakerCount:          int32(a.opts.MaxSpeakers),
		}
	}
	if a.phraseSetID != "" && a.opts.ProjectID != "" {
		cfg.Adaptation = &speechpb.SpeechAdaptation{
			PhraseSetReferences: []string{
				fmt.Sprintf("projects/%s/locations/global/phraseSets/%s", a.opts.ProjectID, a.phraseSetID),
			},
		}
	}
	return cfg
}

func (a *Adapter) openStream() error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return asr.ErrDestroyed
	}
	ctx := a.ctx
	a.mu.Unlock()

	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         a.recognitionConfig(),
				InterimResults: true,
			},
		},
	}); err != nil {
		return err
	}

	a.mu.Lock()
	a.stream = stream
	a.streamGen++
	gen := a.streamGen
	a.mu.Unlock()

	go a.listen(stream, gen)
	return nil
}

// writeAudio is the jitter gate's sink: one released chunk onto the stream
// and into the rolling recovery window.
func (a *Adapter) writeAudio(data []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return asr.ErrNotInitialized
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return err
	}
	a.buffer.Add(data)
	return nil
}

func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, gen int) {
	for {
		resp, err := stream.Recv()

		a.mu.Lock()
		stale := a.destroyed || gen != a.streamGen
		a.mu.Unlock()
		if stale {
			return
		}

		if err != nil {
			a.handleStreamError(err)
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			text := alt.Transcript
			if strings.TrimSpace(text) == "" {
				continue
			}
			a.gate.NotifyResult(r.IsFinal)

			a.mu.Lock()
			if r.IsFinal {
				a.lastPartial = ""
			} else {
				a.lastPartial = text
				a.lastPartialAt = time.Now()
			}
			fn := a.onResult
			a.mu.Unlock()

			if fn != nil {
				fn(asr.Result{
					Text:       text,
					IsPartial:  !r.IsFinal,
					Confidence: float64(alt.Confidence),
				})
			}
		}
	}
}

// handleStreamError classifies a Recv error. Transient conditions restart the
// stream silently; config rejections downgrade once and restart; everything
// else is fatal and surfaces through OnError.
func (a *Adapter) handleStreamError(err error) {
	if err == io.EOF {
		a.restart("stream closed")
		return
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal, codes.OutOfRange:
		// OutOfRange is how the recognizer signals the streaming duration
		// limit was reached.
		a.restart(status.Code(err).String())
	case codes.InvalidArgument:
		msg := strings.ToLower(err.Error())
		a.mu.Lock()
		canDowngrade := !a.downgraded &&
			(strings.Contains(msg, "adaptation") || strings.Contains(msg, "phrase") ||
				strings.Contains(msg, "model") || strings.Contains(msg, "enhanced"))
		if canDowngrade {
			a.downgraded = true
			a.useEnhanced = false
			a.phraseSetID = ""
		}
		a.mu.Unlock()
		if canDowngrade {
			a.log.Warn().Err(err).Msg("recognizer rejected config, retrying without enhanced model and adaptation")
			a.restart("config downgrade")
			return
		}
		a.fatal(err)
	case codes.Unauthenticated, codes.PermissionDenied:
		a.fatal(err)
	case codes.Canceled:
		// Session teardown.
	default:
		a.fatal(err)
	}
}

func (a *Adapter) fatal(err error) {
	a.mu.Lock()
	fn := a.onError
	a.mu.Unlock()
	a.log.Error().Err(err).Msg("recognizer stream failed")
	if fn != nil {
		fn(err)
	}
}

func (a *Adapter) onTimeoutBurst() {
	a.restart("chunk timeout burst")
}

// restart rebuilds the stream: the last unacknowledged partial is flushed as
// a forced final, send-side state is reset, and gated audio is drained into
// the new stream.
func (a *Adapter) restart(reason string) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	forced := a.lastPartial
	a.lastPartial = ""
	stream := a.stream
	a.stream = nil
	fn := a.onResult
	a.mu.Unlock()

	a.log.Info().Str("reason", reason).Msg("restarting recognizer stream")

	if forced != "" && fn != nil {
		fn(asr.Result{Text: forced, IsPartial: false, Forced: true})
	}
	if stream != nil {
		_ = stream.CloseSend()
	}
	a.gate.Reset()

	if err := a.openStream(); err != nil {
		a.fatal(fmt.Errorf("reopen recognizer stream: %w", err))
		return
	}
	a.gate.Drain()
}

// RecognizeOnce runs a one-shot recognition over buffered audio. Used by the
// recovery path after a forced final to catch words the restart dropped.
func (a *Adapter) RecognizeOnce(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	resp, err := a.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: a.recognitionConfig(),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(r.Alternatives[0].Transcript)
	}
	return sb.String(), nil
}
