package protocol

// Outbound event types.
const (
	TypeTranslation       MessageType = "translation"
	TypeSessionReady      MessageType = "session_ready"
	TypeJoined            MessageType = "session_joined"
	TypeSessionStats      MessageType = "session_stats"
	TypeScriptureDetected MessageType = "scriptureDetected"
	TypeInfo              MessageType = "info"
	TypeWarning           MessageType = "warning"
	TypeError             MessageType = "error"
)

// Error codes carried by ErrorEvent.
const (
	CodeAuthFailed        = "AUTH_FAILED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeValidationError   = "VALIDATION_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// TranslationEvent delivers transcript text to listeners of one language.
// Partials for the same segment replace each other; a final with the same
// segmentId supersedes them all. SeqID is strictly increasing per session, so
// clients can drop anything that arrives out of order.
type TranslationEvent struct {
	Type       MessageType `json:"type"`
	SeqID      int64       `json:"seqId"`
	SessionID  string      `json:"sessionId"`
	SegmentID  string      `json:"segmentId"`
	CommitID   string      `json:"commitId,omitempty"`
	SourceLang string      `json:"sourceLang"`
	TargetLang string      `json:"targetLang"`
	Text       string      `json:"text"`
	SourceText string      `json:"sourceText,omitempty"`
	IsFinal    bool        `json:"isFinal"`
	// Forced marks a commit synthesized around a recognizer restart.
	Forced bool `json:"forced,omitempty"`
	// Continuation marks a delta final: Text extends the previous final
	// rather than replacing it.
	Continuation     bool `json:"continuation,omitempty"`
	HasTranslation   bool `json:"hasTranslation"`
	TranslationError bool `json:"translationError,omitempty"`
	// UpdateType is "grammar" when this event refines already delivered text.
	UpdateType  string `json:"updateType,omitempty"`
	TimestampMS int64  `json:"timestampMs"`
}

// SessionReadyEvent confirms a host stream is initialized.
type SessionReadyEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"sessionId"`
	SourceLang  string      `json:"sourceLang"`
	TargetLangs []string    `json:"targetLangs"`
}

// JoinedEvent confirms a listener subscription.
type JoinedEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Lang      string      `json:"lang"`
	// LastSeqID lets a rejoining client detect the gap it missed.
	LastSeqID int64 `json:"lastSeqId"`
}

// SessionStatsEvent is a periodic snapshot sent to the host.
type SessionStatsEvent struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"sessionId"`
	Listeners int            `json:"listeners"`
	ByLang    map[string]int `json:"byLang,omitempty"`
	Segments  int64          `json:"segments"`
	UptimeMS  int64          `json:"uptimeMs"`
}

// ScriptureRef is the structured passage inside a scriptureDetected event.
type ScriptureRef struct {
	Book     string `json:"book"`
	Chapter  int    `json:"chapter"`
	Verse    int    `json:"verse,omitempty"`
	VerseEnd int    `json:"verseEnd,omitempty"`
}

// ScriptureDetectedEvent flags a Bible reference spotted in a committed
// transcript so clients can surface the passage.
type ScriptureDetectedEvent struct {
	Type        MessageType  `json:"type"`
	SeqID       int64        `json:"seqId"`
	SessionID   string       `json:"sessionId"`
	SegmentID   string       `json:"segmentId"`
	Reference   ScriptureRef `json:"reference"`
	DisplayText string       `json:"displayText"`
	Confidence  float64      `json:"confidence"`
	Method      string       `json:"method"`
	TimestampMS int64        `json:"timestampMs"`
}

// InfoEvent carries non-fatal notices; Type is info or warning.
type InfoEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Message   string      `json:"message"`
}

// ErrorEvent reports a failure to the client.
type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
}
