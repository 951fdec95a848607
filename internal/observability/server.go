// Package observability serves the relay's operational surface: Prometheus
// metrics and health probes, on a port separate from the websocket traffic so
// probes stay responsive while sessions stream.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server exposes /metrics, /healthz and /readyz for the relay.
type Server struct {
	addr string
	http *http.Server
}

// NewServer builds the metrics server on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return &Server{
		addr: addr,
		http: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves in a goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("relay metrics server starting")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("relay metrics server error")
		}
	}()
}

// Shutdown drains the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("relay metrics server stopping")
	return s.http.Shutdown(ctx)
}
