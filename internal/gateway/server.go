// Package gateway is the HTTP front door: it validates chat requests, runs
// the escalation gate, scrubs the conversation and relays the provider's
// stream back to the caller.
//
// Request pipeline:
//
//	decode -> triage gate --escalated--> fixed emergency text (+ optional audit)
//	                      \--normal----> scrub -> compose prompt -> forward -> relay stream
//	                                                               \-> audit (async, optional)
package gateway

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clinical-chat-gateway/internal/audit"
	"clinical-chat-gateway/internal/config"
	"clinical-chat-gateway/internal/logger"
	"clinical-chat-gateway/internal/metrics"
	"clinical-chat-gateway/internal/redaction"
	"clinical-chat-gateway/internal/triage"
	"clinical-chat-gateway/internal/upstream"
)

// Forwarder sends a scrubbed conversation to the completion provider.
type Forwarder interface {
	Forward(ctx context.Context, req upstream.Request) (*upstream.Stream, error)
}

// Recorder persists scrubbed conversations.
type Recorder interface {
	Record(ctx context.Context, conv redaction.Scrubbed, meta audit.Meta) (audit.Entry, error)
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Config    *config.Config
	Gate      *triage.Gate
	Scrubber  *redaction.Scrubber
	Forwarder Forwarder
	Recorder  Recorder         // nil disables saveHipaa
	Metrics   *metrics.Metrics // nil = private counters for every redaction token
	Log       *logger.Logger
	// Getenv reads the provider key and model per request. Defaults to
	// os.Getenv.
	Getenv func(string) string
}

// Server handles chat requests.
type Server struct {
	cfg       *config.Config
	gate      *triage.Gate
	scrubber  *redaction.Scrubber
	forwarder Forwarder
	recorder  Recorder
	metrics   *metrics.Metrics
	log       *logger.Logger
	getenv    func(string) string

	audits sync.WaitGroup
}

// New builds a Server from d.
func New(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		gate:      d.Gate,
		scrubber:  d.Scrubber,
		forwarder: d.Forwarder,
		recorder:  d.Recorder,
		metrics:   d.Metrics,
		log:       d.Log,
		getenv:    d.Getenv,
	}
	if s.metrics == nil {
		s.metrics = metrics.New(redaction.TokenNames()...)
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.getenv == nil {
		s.getenv = os.Getenv
	}
	return s
}

// Handler returns the chat API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverJSON)
	r.Use(s.cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/", s.handleChat)
	r.Post("/v1/chat", s.handleChat)
	return r
}

// Drain waits for in-flight audit writes, or until ctx is done.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.audits.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HTTPServer returns a configured *http.Server for the chat API. There is no
// WriteTimeout: responses are long-lived streams.
func (s *Server) HTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
