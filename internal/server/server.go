// Package server exposes the engine over the sidecar HTTP protocol:
// JSON bodies POSTed per operation, numeric status codes in responses.
// Clients in other runtimes speak this instead of linking the engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carapace-ai/carapace/internal/engine"
	"github.com/carapace-ai/carapace/internal/model"
	"github.com/carapace-ai/carapace/internal/policy"
)

// Wire status codes. Zero is success; negatives classify failures.
const (
	StatusOK        = 0
	StatusInvalid   = -1
	StatusDenied    = -2
	StatusEscalated = -3
	StatusInternal  = -4
	StatusNotFound  = -5
)

// Config holds sidecar configuration.
type Config struct {
	Addr        string
	ConfigPath  string
	JournalPath string
}

// Server owns one engine and serves the sidecar protocol over HTTP.
type Server struct {
	log  *zap.Logger
	eng  *engine.Engine
	cfg  Config
	http *http.Server
}

// New loads the policy config, builds the engine, and wires the routes.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	pcfg, hash, err := policy.LoadConfigWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(pcfg, hash, engine.Options{
		Logger:      log,
		JournalPath: cfg.JournalPath,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{log: log, eng: eng, cfg: cfg}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /propose", s.handlePropose)
	mux.HandleFunc("POST /record_result", s.handleRecordResult)
	mux.HandleFunc("POST /is_traced", s.handleIsTraced)
	mux.HandleFunc("POST /set_label", s.handleSetLabel)
	mux.HandleFunc("POST /explain", s.handleExplain)
	mux.HandleFunc("POST /register_tool", s.handleRegisterTool)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Engine returns the underlying engine.
func (s *Server) Engine() *engine.Engine { return s.eng }

// Serve listens on the configured address and blocks until Shutdown.
func (s *Server) Serve() error {
	s.log.Info("sidecar listening", zap.String("addr", s.cfg.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeOn serves on the given listener. For tests.
func (s *Server) ServeOn(lis net.Listener) error {
	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, then closes the engine.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		s.eng.Close()
		return err
	}
	return s.eng.Close()
}

// ReloadPolicy re-reads the config file and swaps the rule set. The
// lattice and store backend are fixed at startup; only rules change.
func (s *Server) ReloadPolicy() error {
	if s.cfg.ConfigPath == "" {
		return fmt.Errorf("server: no config path to reload: %w", model.ErrConfiguration)
	}
	pcfg, hash, err := policy.LoadConfigWithHash(s.cfg.ConfigPath)
	if err != nil {
		return err
	}
	return s.eng.Reload(pcfg, hash)
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.log.Debug("request served",
			zap.String("request_id", id),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
