// Package server exposes the webhook and read-only audit endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/engine"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/journal"
	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/util"
)

const (
	defaultMaxBody   = 64 << 10
	defaultRawLogMax = 2000
)

// Processor is the engine entry point the webhook handler calls.
type Processor interface {
	Process(ctx context.Context, body []byte) engine.Outcome
}

// Reader serves the audit read paths.
type Reader interface {
	Query(ctx context.Context, f journal.Filter) ([]journal.TradeEvent, error)
	Stats(ctx context.Context) (journal.Stats, error)
}

// Server wires handlers to a processor and a journal reader.
type Server struct {
	name      string
	proc      Processor
	reader    Reader
	stream    http.Handler
	log       zerolog.Logger
	maxBody   int64
	rawLogMax int
	now       func() time.Time

	srv *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithName sets the service name reported by the status endpoints.
func WithName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.name = name
		}
	}
}

// WithStream mounts a websocket handler at /ws/events.
func WithStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithMaxBody caps webhook request bodies.
func WithMaxBody(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithRawLogLimit caps how much of each inbound body is logged.
func WithRawLogLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.rawLogMax = n
		}
	}
}

// WithClock overrides time.Now for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a server.
func New(proc Processor, reader Reader, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		name:      "signalbot",
		proc:      proc,
		reader:    reader,
		log:       log,
		maxBody:   defaultMaxBody,
		rawLogMax: defaultRawLogMax,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/signals", s.handleSignals)
	mux.HandleFunc("/stats", s.handleStats)
	if s.stream != nil {
		mux.Handle("/ws/events", s.stream)
	}
	return mux
}

// ListenAndServe blocks serving addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"service":   s.name,
		"endpoints": []string{"/health", "/webhook", "/signals", "/stats", "/ws/events"},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": s.name,
		"ts":      s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":   true,
			"hint": "POST a signed JSON alert with ts, nonce and sig fields",
		})
		return
	case http.MethodPost:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "reason": "body_too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "reason": "unreadable_body"})
		return
	}
	s.log.Info().Str("remote", r.RemoteAddr).Str("body", util.Truncate(string(body), s.rawLogMax)).Msg("webhook received")

	out := s.proc.Process(r.Context(), body)
	writeJSON(w, statusFor(out), out)
}

func statusFor(out engine.Outcome) int {
	if out.Accepted {
		return http.StatusOK
	}
	switch out.Reason {
	case engine.ReasonEmptyBody:
		return http.StatusBadRequest
	case engine.ReasonBadPassphrase:
		return http.StatusForbidden
	case engine.ReasonStateUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		return
	}
	q := r.URL.Query()
	f := journal.Filter{
		Symbol: q.Get("symbol"),
		TF:     q.Get("tf"),
		Side:   q.Get("side"),
		Type:   q.Get("type"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "limit must be an integer"})
			return
		}
		f.Limit = n
	}
	f = f.Normalized()
	events, err := s.reader.Query(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("query signals")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "query failed"})
		return
	}
	if events == nil {
		events = []journal.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(events), "signals": events})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		return
	}
	stats, err := s.reader.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("journal stats")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "stats failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
