// Package httpapi exposes the relay's websocket endpoints: /v1/stream for the
// host microphone connection and /v1/listen for translation listeners, plus
// the health probes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jkang1643/exbabel-relay/internal/asr"
	"github.com/jkang1643/exbabel-relay/internal/config"
	"github.com/jkang1643/exbabel-relay/internal/events"
	"github.com/jkang1643/exbabel-relay/internal/observability/metrics"
	"github.com/jkang1643/exbabel-relay/internal/protocol"
	"github.com/jkang1643/exbabel-relay/internal/session"
	"github.com/jkang1643/exbabel-relay/internal/translate"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 120 * time.Second
	// initTimeout bounds how long a host may sit on an open socket before
	// sending init.
	initTimeout = 10 * time.Second
	// maxInboundPerSecond caps host message rate; beyond it frames are dropped
	// with a rate-limit error.
	maxInboundPerSecond = 120
)

// AdapterFactory builds a recognizer adapter for a new session.
type AdapterFactory func() (asr.Adapter, error)

// Server hosts the websocket endpoints.
type Server struct {
	cfg        *config.Config
	sessions   *session.Manager
	newAdapter AdapterFactory
	translator translate.Translator
	cache      *translate.Cache
	publisher  *events.Publisher
	metrics    *metrics.Metrics
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// New wires the server. cache and publisher may be nil.
func New(cfg *config.Config, sessions *session.Manager, newAdapter AdapterFactory, translator translate.Translator, cache *translate.Cache, publisher *events.Publisher, m *metrics.Metrics, log zerolog.Logger) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		newAdapter: newAdapter,
		translator: translator,
		cache:      cache,
		publisher:  publisher,
		metrics:    m,
		log:        log.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Hosts and listeners connect from native apps and arbitrary web
			// origins; auth happens via API key, not origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router constructs the HTTP router for the relay.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stream", s.handleStream)
		r.Get("/listen", s.handleListen)
	})

	return r
}

// handleStream runs one host connection: authenticate, read init, create the
// session, then pump audio in and events out until either side hangs up.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !s.authorized(r) {
		s.closeWithError(conn, "", protocol.CodeAuthFailed, "invalid or missing API key")
		return
	}

	conn.SetReadLimit(protocol.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(initTimeout))
	init, err := s.readInit(conn)
	if err != nil {
		s.closeWithError(conn, "", protocol.CodeValidationError, err.Error())
		return
	}

	adapter, err := s.newAdapter()
	if err != nil {
		s.log.Error().Err(err).Msg("recognizer adapter construction failed")
		s.closeWithError(conn, "", protocol.CodeInternalError, "recognizer unavailable")
		return
	}

	id := s.sessions.NewID()
	slog := s.log.With().Str("sessionId", id).Logger()
	sess := session.New(id, session.Config{
		SourceLang:         init.SourceLang,
		TargetLangs:        init.TargetLangs,
		Solo:               init.Solo,
		GrammarCorrection:  s.cfg.GrammarCorrection,
		ScriptureDetection: s.cfg.ScriptureDetection,
	}, adapter, s.translator, s.cache, s.publisher, s.metrics, s.log)

	opts := asr.Options{
		SampleRateHertz:   init.SampleRateHertz,
		FallbackToEnglish: true,
		ProjectID:         s.cfg.ProjectID,
		PhraseSetID:       s.cfg.PhraseSetID,
		UseEnhancedModel:  s.cfg.UseEnhancedASR,
	}
	if err := sess.Start(r.Context(), opts); err != nil {
		slog.Error().Err(err).Msg("session start failed")
		sess.Close()
		code := protocol.CodeInternalError
		if errors.Is(err, asr.ErrUnsupportedLanguage) {
			code = protocol.CodeValidationError
		}
		s.closeWithError(conn, id, code, err.Error())
		return
	}

	s.sessions.Register(sess)
	defer s.sessions.Remove(id)

	hostLang := init.SourceLang
	if init.Solo {
		// A solo host is their own audience: stream every language back.
		hostLang = session.LangAll
	}
	host := sess.Broadcaster().Subscribe(hostLang)
	defer sess.Broadcaster().Unsubscribe(host.ID)
	sess.AttachHost(host)

	sess.Broadcaster().SendTo(host, protocol.SessionReadyEvent{
		Type:        protocol.TypeSessionReady,
		SessionID:   id,
		SourceLang:  init.SourceLang,
		TargetLangs: init.TargetLangs,
	})

	writerDone := s.startWriter(conn, host)
	s.hostReadLoop(conn, sess, host)

	conn.Close()
	<-writerDone
	slog.Info().Msg("host disconnected")
}

// handleListen attaches a listener to a running session for one language.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session", "query parameter session is required")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}
	if sess.Solo() {
		respondError(w, http.StatusForbidden, "solo_session", "session does not accept listeners")
		return
	}
	lang := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("lang")))
	if lang == "" {
		lang = sess.SourceLang()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := sess.Broadcaster().Subscribe(lang)
	defer sess.Broadcaster().Unsubscribe(sub.ID)

	sess.Broadcaster().SendTo(sub, protocol.JoinedEvent{
		Type:      protocol.TypeJoined,
		SessionID: sessionID,
		Lang:      lang,
		LastSeqID: sess.Broadcaster().LastSeq(),
	})

	writerDone := s.startWriter(conn, sub)
	s.listenerReadLoop(conn, sess, sub)

	conn.Close()
	<-writerDone
}

// startWriter drains the subscriber queue onto the websocket. The returned
// channel closes when the writer exits.
func (s *Server) startWriter(conn *websocket.Conn, sub *session.Subscriber) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case raw := <-sub.Events():
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					conn.Close()
					return
				}
			case <-sub.Closed():
				// Flush anything already queued before hanging up.
				for {
					select {
					case raw := <-sub.Events():
						_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
						if conn.WriteMessage(websocket.TextMessage, raw) != nil {
							conn.Close()
							return
						}
					default:
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
							time.Now().Add(writeTimeout))
						conn.Close()
						return
					}
				}
			}
		}
	}()
	return done
}

func (s *Server) hostReadLoop(conn *websocket.Conn, sess *session.Session, host *session.Subscriber) {
	windowStart := time.Now()
	windowCount := 0

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		if now := time.Now(); now.Sub(windowStart) >= time.Second {
			windowStart = now
			windowCount = 0
		}
		windowCount++
		if windowCount > maxInboundPerSecond {
			// Sustained abuse well past the cap closes the connection.
			if windowCount > 2*maxInboundPerSecond {
				s.closeWithError(conn, sess.ID, protocol.CodeRateLimitExceeded, "message rate limit exceeded")
				return
			}
			sess.Broadcaster().SendTo(host, protocol.ErrorEvent{
				Type:      protocol.TypeError,
				SessionID: sess.ID,
				Code:      protocol.CodeRateLimitExceeded,
				Message:   "message rate limit exceeded, frame dropped",
				Retryable: true,
			})
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			sess.Broadcaster().SendTo(host, protocol.ErrorEvent{
				Type:      protocol.TypeError,
				SessionID: sess.ID,
				Code:      protocol.CodeValidationError,
				Message:   err.Error(),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.AudioMessage:
			if err := sess.ProcessAudio(msg.Audio); err != nil {
				s.log.Warn().Err(err).Str("sessionId", sess.ID).Msg("audio chunk rejected")
			}
		case protocol.AudioEndMessage:
			sess.AudioEnd()
		case protocol.PingMessage:
			sess.Broadcaster().SendTo(host, protocol.PongMessage{Type: protocol.TypePong})
		case protocol.PongMessage:
			// Keepalive only.
		case protocol.InitMessage:
			sess.Broadcaster().SendTo(host, protocol.ErrorEvent{
				Type:      protocol.TypeError,
				SessionID: sess.ID,
				Code:      protocol.CodeValidationError,
				Message:   "session already initialized",
			})
		}
	}
}

// listenerReadLoop keeps the listener socket warm; listeners only ever send
// pings.
func (s *Server) listenerReadLoop(conn *websocket.Conn, sess *session.Session, sub *session.Subscriber) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			continue
		}
		if _, ok := parsed.(protocol.PingMessage); ok {
			sess.Broadcaster().SendTo(sub, protocol.PongMessage{Type: protocol.TypePong})
		}
	}
}

// readInit reads the first frame of a host connection, which must be init.
func (s *Server) readInit(conn *websocket.Conn) (protocol.InitMessage, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return protocol.InitMessage{}, errors.New("connection closed before init")
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			return protocol.InitMessage{}, err
		}
		msg, ok := parsed.(protocol.InitMessage)
		if !ok {
			return protocol.InitMessage{}, errors.New("first message must be init")
		}
		return msg, nil
	}
}

// authorized checks the host API key. An empty key list disables auth, for
// local development.
func (s *Server) authorized(r *http.Request) bool {
	if len(s.cfg.APIKeys) == 0 {
		return true
	}
	key := strings.TrimSpace(r.URL.Query().Get("apiKey"))
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("X-Api-Key"))
	}
	if key == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if key == "" {
		return false
	}
	for _, k := range s.cfg.APIKeys {
		if k == key {
			return true
		}
	}
	return false
}

// closeWithError ships one error event and closes with a policy-violation
// close frame.
func (s *Server) closeWithError(conn *websocket.Conn, sessionID, code, message string) {
	raw, err := json.Marshal(protocol.ErrorEvent{
		Type:      protocol.TypeError,
		SessionID: sessionID,
		Code:      code,
		Message:   message,
	})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteMessage(websocket.TextMessage, raw)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(writeTimeout))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
