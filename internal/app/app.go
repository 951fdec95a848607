// Package app wires the relay's components together: configuration, logging,
// the session registry, the recognizer adapter factory, translation workers,
// Kafka archiving, and the HTTP servers.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkang1643/exbabel-relay/internal/asr"
	"github.com/jkang1643/exbabel-relay/internal/asr/google"
	"github.com/jkang1643/exbabel-relay/internal/asr/mock"
	"github.com/jkang1643/exbabel-relay/internal/config"
	"github.com/jkang1643/exbabel-relay/internal/events"
	"github.com/jkang1643/exbabel-relay/internal/httpapi"
	"github.com/jkang1643/exbabel-relay/internal/observability"
	"github.com/jkang1643/exbabel-relay/internal/observability/logging"
	"github.com/jkang1643/exbabel-relay/internal/session"
	"github.com/jkang1643/exbabel-relay/internal/translate"
)

// Application holds process-wide state for the relay.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Sessions  *session.Manager
	Publisher *events.Publisher

	httpServer *http.Server
	obsServer  *observability.Server
}

// New constructs the application from the provided configuration.
func New(cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		TimeFormat: time.RFC3339,
	})
	logger := logging.Logger().With().
		Str("service", "exbabel-relay").
		Logger()

	a := &Application{
		Logger: logger,
		Cfg:    cfg,
	}

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.KafkaEnabled,
		Brokers:      cfg.KafkaBrokers,
		TopicPartial: cfg.KafkaTopicPartial,
		TopicFinal:   cfg.KafkaTopicFinal,
	})

	a.Sessions = session.NewManager(logger)

	translator, err := a.buildTranslator()
	if err != nil {
		return nil, err
	}
	cache := translate.NewCache(0)

	api := httpapi.New(cfg, a.Sessions, a.adapterFactory(), translator, cache, a.Publisher, nil, logger)
	a.httpServer = &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.Router(),
		ReadTimeout:  0, // websocket connections are long-lived
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	a.obsServer = observability.NewServer(":" + cfg.MetricsPort)

	logger.Info().Msg("relay application created")
	return a, nil
}

// buildTranslator returns the OpenAI-backed worker, or a passthrough when no
// API key is configured so local development still produces events.
func (a *Application) buildTranslator() (translate.Translator, error) {
	if a.Cfg.TranslatorAPIKey == "" {
		a.Logger.Warn().Msg("TRANSLATOR_API_KEY not set, translations are passthrough")
		return passthroughTranslator{}, nil
	}
	return translate.NewWorker(translate.WorkerConfig{
		APIKey:       a.Cfg.TranslatorAPIKey,
		PartialModel: a.Cfg.TranslatorModelPartial,
		FinalModel:   a.Cfg.TranslatorModelFinal,
	}, a.Logger)
}

// adapterFactory picks the recognizer per configuration: the mock replays
// canned utterances for credential-free development.
func (a *Application) adapterFactory() httpapi.AdapterFactory {
	if a.Cfg.UseMockRecognizer {
		a.Logger.Warn().Msg("USE_MOCK_RECOGNIZER set, replaying canned utterances")
		return func() (asr.Adapter, error) {
			return mock.New(), nil
		}
	}
	return func() (asr.Adapter, error) {
		return google.New(context.Background(), a.Cfg.RecognizerCredentials, a.Logger)
	}
}

// Start begins serving client traffic and metrics.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()

	a.obsServer.Start()

	go func() {
		a.Logger.Info().Str("addr", a.httpServer.Addr).Msg("relay HTTP server starting")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error().Err(err).Msg("relay HTTP server error")
		}
	}()

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("relay started")
	return nil
}

// Shutdown drains sessions and stops the servers.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("relay shutting down")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	a.Sessions.CloseAll()
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Kafka publisher close error")
	}
	if err := a.obsServer.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("observability server shutdown error")
	}
}

// passthroughTranslator echoes source text. Development fallback only.
type passthroughTranslator struct{}

func (passthroughTranslator) TranslatePartial(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

func (passthroughTranslator) TranslateFinal(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

func (passthroughTranslator) CorrectGrammar(_ context.Context, text string) (string, error) {
	return text, nil
}
