// Package management provides a lightweight HTTP API for runtime inspection
// of the running gateway.
//
// Endpoints:
//
//	GET  /status          - gateway health and effective settings
//	GET  /metrics         - counter snapshot
//	GET  /rules           - redaction rule order and red-flag keywords
//	GET  /audit/{id}      - decoded audit record (bbolt and sqlite sinks)
//	POST /loglevel        - change log level {"level":"debug"}
package management

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clinical-chat-gateway/internal/audit"
	"clinical-chat-gateway/internal/config"
	"clinical-chat-gateway/internal/logger"
	"clinical-chat-gateway/internal/metrics"
)

// Rules describes the active detection tables and prompt choices.
type Rules struct {
	Redaction  []string `json:"redaction"`
	RedFlags   []string `json:"redFlags"`
	NERBackend string   `json:"nerBackend"`
	Personas   []string `json:"personas,omitempty"`
	Empathies  []string `json:"empathies,omitempty"`
}

// CacheStats is implemented by the NER result cache.
type CacheStats interface {
	Stats() (hits, misses int64, size int)
}

// recordCounter is implemented by audit sinks that can count stored records.
type recordCounter interface {
	Count() (int, error)
}

// Options wires the management server to the rest of the gateway.
type Options struct {
	Config  *config.Config
	Metrics *metrics.Metrics // nil = no metrics
	Rules   Rules
	// Audit reads records back; nil when the sink cannot.
	Audit     audit.Lookuper
	AuditSink string
	// NERCache is nil when entity results are not cached.
	NERCache CacheStats
	Log      *logger.Logger
}

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	token     string // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics
	rules     Rules
	audit     audit.Lookuper
	auditSink string
	nerCache  CacheStats
	log       *logger.Logger
}

// New creates a management server.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		cfg:       opts.Config,
		startTime: time.Now(),
		token:     opts.Config.ManagementToken,
		metrics:   opts.Metrics,
		rules:     opts.Rules,
		audit:     opts.Audit,
		auditSink: opts.AuditSink,
		nerCache:  opts.NERCache,
		log:       log,
	}
	if s.token != "" {
		log.Info("auth", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/rules", s.handleRules)
	r.Get("/audit/{id}", s.handleAudit)
	r.Post("/loglevel", s.handleLogLevel)
	return r
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type cacheStatus struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status      string `json:"status"`
		Uptime      string `json:"uptime"`
		Port        int    `json:"port"`
		ProviderURL string `json:"providerUrl"`
		ModelEnv    string `json:"modelEnv"`
		NER         struct {
			Backend  string       `json:"backend"`
			Endpoint string       `json:"endpoint,omitempty"`
			Model    string       `json:"model,omitempty"`
			Cache    *cacheStatus `json:"cache,omitempty"`
		} `json:"ner"`
		AuditSink    string `json:"auditSink"`
		AuditRecords *int   `json:"auditRecords,omitempty"`
		DebugErrors  bool   `json:"debugErrors"`
	}

	resp := response{
		Status:      "running",
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Port:        s.cfg.Port,
		ProviderURL: s.cfg.ProviderURL,
		ModelEnv:    s.cfg.ModelEnv,
		AuditSink:   s.auditSink,
		DebugErrors: s.cfg.DebugErrors,
	}
	resp.NER.Backend = s.rules.NERBackend
	if strings.EqualFold(s.rules.NERBackend, "ollama") {
		resp.NER.Endpoint = s.cfg.OllamaEndpoint
		resp.NER.Model = s.cfg.OllamaModel
	}
	if s.nerCache != nil {
		hits, misses, size := s.nerCache.Stats()
		resp.NER.Cache = &cacheStatus{Hits: hits, Misses: misses, Size: size}
	}
	if c, ok := s.audit.(recordCounter); ok {
		n, err := c.Count()
		if err != nil {
			s.log.Warnf("status", "count audit records: %v", err)
		} else {
			resp.AuditRecords = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rules)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		http.Error(w, fmt.Sprintf("audit sink %q does not support lookup", s.auditSink), http.StatusNotImplemented)
		return
	}
	id := chi.URLParam(r, "id")
	e, err := s.audit.Lookup(r.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Errorf("audit_lookup", "%s: %v", id, err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	rec, err := audit.Decode(e.Blob)
	if err != nil {
		s.log.Errorf("audit_lookup", "decode %s: %v", id, err)
		http.Error(w, "corrupt record", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLogLevel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Level == "" {
		http.Error(w, "invalid request: need {\"level\":\"...\"}", http.StatusBadRequest)
		return
	}
	level := strings.ToLower(strings.TrimSpace(req.Level))
	switch level {
	case "debug", "info", "warn", "warning", "error":
	default:
		http.Error(w, "invalid level", http.StatusBadRequest)
		return
	}
	s.log.SetLevel(level)
	s.log.Warnf("loglevel", "log level set to %s", level)
	writeJSON(w, http.StatusOK, map[string]string{"level": level})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the management listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.ManagementPort)
}

// HTTPServer returns a configured *http.Server for the management API.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
