package config

import (
	"os"
	"reflect"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"ENV", "HTTP_PORT", "METRICS_PORT", "ZEROLOG_LOG_LEVEL",
		"SESSION_WS_API_KEYS", "RECOGNIZER_CREDENTIALS", "PROJECT_ID", "PHRASE_SET_ID",
		"USE_ENHANCED_ASR", "USE_MOCK_RECOGNIZER",
		"TRANSLATOR_API_KEY", "TRANSLATOR_MODEL_PARTIAL", "TRANSLATOR_MODEL_FINAL",
		"SCRIPTURE_DETECTION", "KAFKA_ENABLED", "KAFKA_BROKERS",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	if cfg.HTTPPort != "8080" {
		t.Errorf("expected default HTTP port '8080', got %s", cfg.HTTPPort)
	}
	if cfg.MetricsPort != "9090" {
		t.Errorf("expected default metrics port '9090', got %s", cfg.MetricsPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.LogLevel)
	}
	if len(cfg.APIKeys) != 0 {
		t.Errorf("expected no API keys by default, got %v", cfg.APIKeys)
	}
	if !cfg.UseEnhancedASR {
		t.Error("expected enhanced ASR enabled by default")
	}
	if cfg.UseMockRecognizer {
		t.Error("expected mock recognizer disabled by default")
	}
	if cfg.TranslatorModelPartial == "" || cfg.TranslatorModelFinal == "" {
		t.Error("expected default translator models")
	}
	if !cfg.ScriptureDetection {
		t.Error("expected scripture detection enabled by default")
	}
	if cfg.KafkaEnabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.KafkaTopicPartial != "relay.transcript.partial" {
		t.Errorf("expected default partial topic, got %s", cfg.KafkaTopicPartial)
	}
	if cfg.Production() {
		t.Error("expected non-production default environment")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("ENV", "production")
	os.Setenv("HTTP_PORT", "9999")
	os.Setenv("SESSION_WS_API_KEYS", "key-a, key-b,,key-c")
	os.Setenv("USE_ENHANCED_ASR", "false")
	os.Setenv("KAFKA_ENABLED", "true")
	os.Setenv("KAFKA_BROKERS", "broker-1:9092,broker-2:9092")

	defer func() {
		os.Unsetenv("ENV")
		os.Unsetenv("HTTP_PORT")
		os.Unsetenv("SESSION_WS_API_KEYS")
		os.Unsetenv("USE_ENHANCED_ASR")
		os.Unsetenv("KAFKA_ENABLED")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg := Load()

	if !cfg.Production() {
		t.Error("expected production environment")
	}
	if cfg.HTTPPort != "9999" {
		t.Errorf("expected HTTP port '9999', got %s", cfg.HTTPPort)
	}
	if want := []string{"key-a", "key-b", "key-c"}; !reflect.DeepEqual(cfg.APIKeys, want) {
		t.Errorf("expected API keys %v, got %v", want, cfg.APIKeys)
	}
	if cfg.UseEnhancedASR {
		t.Error("expected enhanced ASR disabled")
	}
	if !cfg.KafkaEnabled {
		t.Error("expected Kafka enabled")
	}
	if want := []string{"broker-1:9092", "broker-2:9092"}; !reflect.DeepEqual(cfg.KafkaBrokers, want) {
		t.Errorf("expected brokers %v, got %v", want, cfg.KafkaBrokers)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , ,b ", []string{"a", "b"}},
	}
	for _, tt := range tests {
		got := splitList(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
