// Package translate produces per-language renditions of transcript text:
// LLM-backed translation of interim and committed transcripts, plus grammar
// correction for same-language listeners. The coordinator throttles, caches,
// and fans the work out across target languages.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
)

// grammarTimeout bounds a grammar correction round trip; past it the original
// text is used unchanged.
const grammarTimeout = 2 * time.Second

var ErrEmptyCompletion = errors.New("translate: empty completion")

// Translator renders text into a target language. Partial and final
// translations may use different models; both must be deterministic so
// repeated partials do not flicker.
type Translator interface {
	TranslatePartial(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	TranslateFinal(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	CorrectGrammar(ctx context.Context, text string) (string, error)
}

// WorkerConfig configures the OpenAI-backed translator.
type WorkerConfig struct {
	APIKey string
	// PartialModel serves interim transcripts; a small fast model keeps the
	// caption latency low. FinalModel serves committed transcripts.
	PartialModel string
	FinalModel   string
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PartialModel == "" {
		c.PartialModel = "gpt-4o-mini"
	}
	if c.FinalModel == "" {
		c.FinalModel = "gpt-4o-mini"
	}
	return c
}

// Worker implements Translator on the OpenAI chat completions API.
type Worker struct {
	cfg    WorkerConfig
	client openai.Client
	log    zerolog.Logger
}

// NewWorker creates an OpenAI-backed translator.
func NewWorker(cfg WorkerConfig, log zerolog.Logger) (*Worker, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("translate: API key is required")
	}
	return &Worker{
		cfg:    cfg.withDefaults(),
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		log:    log.With().Str("component", "translate.worker").Logger(),
	}, nil
}

// languageNames maps codes to the names used in prompts.
var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
	"ru": "Russian",
	"uk": "Ukrainian",
	"pl": "Polish",
	"ro": "Romanian",
	"hi": "Hindi",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
	"ar": "Arabic",
	"tr": "Turkish",
	"vi": "Vietnamese",
	"id": "Indonesian",
	"sw": "Swahili",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

func translationPrompt(sourceLang, targetLang string, partial bool) string {
	src, tgt := languageName(sourceLang), languageName(targetLang)
	p := fmt.Sprintf("You are a professional real-time interpreter. Translate the following live speech transcript from %s to %s. Only output the translation, no explanations.", src, tgt)
	if partial {
		p += " The text is an in-progress fragment and may stop mid-sentence; translate it as-is without completing it."
	}
	return p
}

const grammarPrompt = "You are a live-captioning editor. Fix grammar, casing, and punctuation of the following speech transcript without changing its wording or meaning. Only output the corrected text."

// TranslatePartial renders an interim transcript fragment.
func (w *Worker) TranslatePartial(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return w.complete(ctx, w.cfg.PartialModel, translationPrompt(sourceLang, targetLang, true), text)
}

// TranslateFinal renders a committed transcript.
func (w *Worker) TranslateFinal(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return w.complete(ctx, w.cfg.FinalModel, translationPrompt(sourceLang, targetLang, false), text)
}

// CorrectGrammar cleans up a transcript for same-language listeners. The call
// is bounded by grammarTimeout; on any failure the original text comes back
// with the error so the caller can fall through to it.
func (w *Worker) CorrectGrammar(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, grammarTimeout)
	defer cancel()
	out, err := w.complete(ctx, w.cfg.FinalModel, grammarPrompt, text)
	if err != nil {
		return text, err
	}
	return out, nil
}

func (w *Worker) complete(ctx context.Context, model, system, user string) (string, error) {
	completion, err := w.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: shared.ChatModel(model),
		// Deterministic output so a re-translated prefix does not flicker.
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
