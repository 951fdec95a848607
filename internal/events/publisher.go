// Package events archives transcript traffic to Kafka: interim partials and
// committed finals go to separate topics so downstream consumers can choose
// their noise level.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/jkang1643/exbabel-relay/internal/observability/metrics"
)

// TranscriptRecord is the archived form of one transcript event.
type TranscriptRecord struct {
	SessionID   string `json:"sessionId"`
	SegmentID   string `json:"segmentId"`
	CommitID    string `json:"commitId,omitempty"`
	SourceLang  string `json:"sourceLang"`
	Text        string `json:"text"`
	IsFinal     bool   `json:"isFinal"`
	Source      string `json:"source,omitempty"`
	TimestampMS int64  `json:"timestampMs"`
}

// Publisher publishes transcript records to separate Kafka topics.
type Publisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	topicPartial  string
	topicFinal    string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Enabled      bool
}

// New creates a Kafka publisher. With a nil or disabled config the publisher
// runs in log-only mode and every publish succeeds locally.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		p := &Publisher{enabled: false, metrics: m}
		if cfg != nil {
			p.topicPartial = cfg.TopicPartial
			p.topicFinal = cfg.TopicFinal
		}
		return p
	}

	// Longer dial timeouts for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerPartial := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicPartial,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	writerFinal := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicFinal,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerPartial: writerPartial,
		writerFinal:   writerFinal,
		topicPartial:  cfg.TopicPartial,
		topicFinal:    cfg.TopicFinal,
		enabled:       true,
		metrics:       m,
	}
}

// PublishPartial archives a partial transcript, keyed by session so a
// session's records stay ordered within a partition.
func (p *Publisher) PublishPartial(ctx context.Context, rec TranscriptRecord) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, "partial", rec)
}

// PublishFinal archives a committed transcript.
func (p *Publisher) PublishFinal(ctx context.Context, rec TranscriptRecord) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, "final", rec)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType string, rec TranscriptRecord) error {
	start := time.Now()

	payload, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal transcript record")
		return err
	}

	log.Debug().
		Str("topic", topic).
		Str("sessionId", rec.SessionID).
		Str("segmentId", rec.SegmentID).
		Msg("Publishing transcript record")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(rec.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "sourceLang", Value: []byte(rec.SourceLang)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("sessionId", rec.SessionID).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing partial writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	return err
}
