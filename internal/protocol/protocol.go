// Package protocol defines the websocket wire format: inbound host messages
// and outbound session events, with the size and content limits applied at
// the edge.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Wire limits enforced before any message reaches a session.
const (
	// MaxMessageBytes caps a single websocket frame.
	MaxMessageBytes = 1 << 20
	// MaxAudioChunkBytes caps one base64 audio payload.
	MaxAudioChunkBytes = 64 << 10
	// MaxTextChars caps any free-text field.
	MaxTextChars = 10000
	// MaxTargetLanguages caps the fanout a single session may request.
	MaxTargetLanguages = 12
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeInit     MessageType = "init"
	TypeAudio    MessageType = "audio"
	TypeAudioEnd MessageType = "audio_end"
	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrMessageTooLarge = errors.New("message exceeds size limit")
	ErrChunkTooLarge   = errors.New("audio chunk exceeds size limit")
)

// Envelope carries only the discriminator field.
type Envelope struct {
	Type MessageType `json:"type"`
}

// InitMessage opens a host stream: the spoken language plus the languages to
// translate into.
type InitMessage struct {
	Type            MessageType `json:"type"`
	SourceLang      string      `json:"sourceLang"`
	TargetLangs     []string    `json:"targetLangs"`
	SampleRateHertz int         `json:"sampleRateHertz,omitempty"`
	// Solo keeps the session alive with zero listeners, for a host captioning
	// only themselves.
	Solo bool `json:"solo,omitempty"`
}

// AudioMessage carries one base64-encoded PCM chunk.
type AudioMessage struct {
	Type  MessageType `json:"type"`
	Audio string      `json:"audio"`
}

// AudioEndMessage signals the host stopped the microphone; pending transcript
// state is flushed.
type AudioEndMessage struct {
	Type MessageType `json:"type"`
}

// PingMessage / PongMessage keep the connection warm through idle periods.
type PingMessage struct {
	Type MessageType `json:"type"`
}

type PongMessage struct {
	Type MessageType `json:"type"`
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup from client-influenced text and truncates it to
// MaxTextChars.
func StripHTML(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, "")
	if len(s) > MaxTextChars {
		s = s[:MaxTextChars]
	}
	return strings.TrimSpace(s)
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(raw []byte) (any, error) {
	if len(raw) > MaxMessageBytes {
		return nil, ErrMessageTooLarge
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeInit:
		var msg InitMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.SourceLang = strings.ToLower(strings.TrimSpace(msg.SourceLang))
		if msg.SourceLang == "" {
			return nil, errors.New("init: sourceLang is required")
		}
		if len(msg.TargetLangs) > MaxTargetLanguages {
			return nil, fmt.Errorf("init: at most %d target languages", MaxTargetLanguages)
		}
		targets := msg.TargetLangs[:0]
		for _, t := range msg.TargetLangs {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || t == msg.SourceLang {
				continue
			}
			targets = append(targets, t)
		}
		msg.TargetLangs = targets
		return msg, nil
	case TypeAudio:
		var msg AudioMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Audio == "" {
			return nil, errors.New("audio: empty payload")
		}
		if len(msg.Audio) > MaxAudioChunkBytes {
			return nil, ErrChunkTooLarge
		}
		return msg, nil
	case TypeAudioEnd:
		return AudioEndMessage{Type: TypeAudioEnd}, nil
	case TypePing:
		return PingMessage{Type: TypePing}, nil
	case TypePong:
		return PongMessage{Type: TypePong}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
