// Package api exposes the captured sessions, scorer status, and the
// live event stream over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"lurecage/internal/anomaly"
	"lurecage/internal/broadcast"
	"lurecage/internal/feature"
	"lurecage/internal/schema"
	"lurecage/internal/store"
)

// Config holds HTTP server settings.
type Config struct {
	Address           string        `yaml:"address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StreamQueueSize   int           `yaml:"stream_queue_size"`
}

// DefaultConfig returns sensible HTTP defaults.
func DefaultConfig() Config {
	return Config{
		Address:           ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		StreamQueueSize:   broadcast.DefaultQueueSize,
	}
}

// Server is the read-side HTTP API. It never mutates the store.
type Server struct {
	cfg       Config
	store     *store.Store
	scorer    *anomaly.Scorer
	bc        *broadcast.Broadcaster
	validator *schema.Validator

	listener net.Listener
	httpSrv  *http.Server
}

// NewServer wires the API against the store, scorer, and broadcaster.
func NewServer(cfg Config, st *store.Store, scorer *anomaly.Scorer, bc *broadcast.Broadcaster) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.StreamQueueSize <= 0 {
		cfg.StreamQueueSize = DefaultConfig().StreamQueueSize
	}
	s := &Server{
		cfg:       cfg,
		store:     st,
		scorer:    scorer,
		bc:        bc,
		validator: schema.NewValidator(),
	}
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/v1/sessions/", s.handleSessionByID)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/v1/stream", s.handleStream)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server failed", "error", err)
		}
	}()

	slog.Info("api server started", "address", listener.Addr().String())
	return nil
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessions := s.store.ListSessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := s.store.GetSession(id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// StatsResponse aggregates store, model, and fan-out state.
type StatsResponse struct {
	Store     store.Stats       `json:"store"`
	Model     anomaly.ModelInfo `json:"model"`
	Broadcast broadcast.Metrics `json:"broadcast"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Store:     s.store.Stats(),
		Model:     s.scorer.Info(),
		Broadcast: s.bc.Metrics(),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req schema.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validator.ValidateAnalyze(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vec := feature.Extract(req.Command)
	score, version := s.scorer.Score(vec)
	info := s.scorer.Info()

	writeJSON(w, http.StatusOK, schema.AnalyzeResult{
		Command:      req.Command,
		Features:     vec,
		Score:        score,
		Level:        s.scorer.Classify(score),
		Keywords:     feature.Keywords(req.Command),
		ModelTrained: info.Trained,
		ModelVersion: version,
		AnalyzedAt:   time.Now().UTC(),
	})
}

// handleStream serves the live event feed as Server-Sent Events. Each
// store mutation is one `data:` frame; periodic comment lines keep
// idle connections alive.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.bc.Subscribe(s.cfg.StreamQueueSize)
	defer s.bc.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("failed to marshal stream event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
