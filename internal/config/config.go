// Package config loads the relay's configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything the relay reads from the environment.
type Config struct {
	Env      string
	HTTPPort string
	// MetricsPort serves /metrics and /healthz separately from client traffic.
	MetricsPort string
	LogLevel    string
	LogFormat   string

	// APIKeys authorize host connections. Empty means open access, for local
	// development only.
	APIKeys []string

	// Recognizer settings.
	// RecognizerCredentials is a service-account JSON path; empty uses
	// application default credentials.
	RecognizerCredentials string
	ProjectID             string
	PhraseSetID           string
	UseEnhancedASR        bool
	UseMockRecognizer     bool

	// Translator settings.
	TranslatorAPIKey       string
	TranslatorModelPartial string
	TranslatorModelFinal   string
	GrammarCorrection      bool

	// ScriptureDetection emits scriptureDetected events on committed finals.
	ScriptureDetection bool

	// Kafka archiving.
	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaTopicPartial string
	KafkaTopicFinal   string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:         envOrDefault("ENV", "development"),
		HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
		MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		LogLevel:    envOrDefault("ZEROLOG_LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),

		APIKeys: splitList(os.Getenv("SESSION_WS_API_KEYS")),

		RecognizerCredentials: os.Getenv("RECOGNIZER_CREDENTIALS"),
		ProjectID:             os.Getenv("PROJECT_ID"),
		PhraseSetID:           os.Getenv("PHRASE_SET_ID"),
		UseEnhancedASR:        envOrDefaultBool("USE_ENHANCED_ASR", true),
		UseMockRecognizer:     envOrDefaultBool("USE_MOCK_RECOGNIZER", false),

		TranslatorAPIKey:       os.Getenv("TRANSLATOR_API_KEY"),
		TranslatorModelPartial: envOrDefault("TRANSLATOR_MODEL_PARTIAL", "gpt-4o-mini"),
		TranslatorModelFinal:   envOrDefault("TRANSLATOR_MODEL_FINAL", "gpt-4o"),
		GrammarCorrection:      envOrDefaultBool("GRAMMAR_CORRECTION", true),

		ScriptureDetection: envOrDefaultBool("SCRIPTURE_DETECTION", true),

		KafkaEnabled:      envOrDefaultBool("KAFKA_ENABLED", false),
		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "relay.transcript.partial"),
		KafkaTopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "relay.transcript.final"),
	}
}

// Production reports whether the relay runs with production settings.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
