// Command gateway is the clinical chat gateway.
//
// It accepts a chat conversation, answers red-flag symptoms with a fixed
// emergency message, and otherwise scrubs identifiers from every message
// before streaming a completion from the configured LLM provider back to the
// caller. A separate management port serves status, metrics and audit
// lookups.
//
// Usage:
//
//	# Provider key and model are read from the environment on every request
//	LLM_API_KEY=sk-... ./gateway
//
//	# Persist scrubbed conversations for saveHipaa requests
//	AUDIT_SINK=sqlite AUDIT_PATH=data/audit.db ./gateway
//
// A .env file in the working directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"clinical-chat-gateway/internal/audit"
	"clinical-chat-gateway/internal/config"
	"clinical-chat-gateway/internal/gateway"
	"clinical-chat-gateway/internal/logger"
	"clinical-chat-gateway/internal/management"
	"clinical-chat-gateway/internal/metrics"
	"clinical-chat-gateway/internal/ner"
	"clinical-chat-gateway/internal/prompt"
	"clinical-chat-gateway/internal/redaction"
	"clinical-chat-gateway/internal/triage"
	"clinical-chat-gateway/internal/upstream"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.New("main", "info").Warnf("dotenv", "%v", err)
	}

	cfg := config.Load()
	log := logger.New("gateway", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config", "invalid configuration: %v", err)
	}

	a, err := build(cfg, log)
	if err != nil {
		log.Fatalf("startup", "%v", err)
	}
	defer a.close()

	printBanner(cfg, a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.serve(ctx); err != nil {
		log.Fatalf("serve", "%v", err)
	}
}

// app is the wired gateway.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	chat     *gateway.Server
	mgmt     *management.Server
	recorder *audit.Recorder
	ner      string
	rules    []string
}

// build wires every component from cfg without opening listeners.
func build(cfg *config.Config, log *logger.Logger) (*app, error) {
	m := metrics.New(redaction.TokenNames()...)

	ex, err := ner.New(ner.Options{
		Backend:        cfg.NERBackend,
		OllamaEndpoint: cfg.OllamaEndpoint,
		OllamaModel:    cfg.OllamaModel,
		Timeout:        cfg.NERTimeout(),
		CacheSize:      cfg.NERCacheSize,
	})
	if err != nil {
		return nil, err
	}
	var entities ner.Extractor
	if _, off := ex.(ner.Nop); !off {
		entities = ex
	}
	rules := redaction.DefaultRules(redaction.Options{PhoneRegion: cfg.PhoneRegion, Entities: entities})
	scrubber := redaction.NewScrubber(rules, log.Module("redaction"))

	triageRules, err := triage.LoadRules(cfg.TriageRulesFile)
	if err != nil {
		return nil, fmt.Errorf("triage rules: %w", err)
	}
	gate := triageRules.Gate()

	sink, err := audit.NewSink(cfg.AuditSink, cfg.AuditPath, log.Module("audit"))
	if err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}
	recorder := audit.NewRecorder(sink, log.Module("audit"))
	lookup, _ := sink.(audit.Lookuper)

	client := upstream.New(upstream.Options{
		BaseURL:               cfg.ProviderURL,
		ResponseHeaderTimeout: cfg.UpstreamHeaderTimeout(),
	})

	chat := gateway.New(gateway.Deps{
		Config:    cfg,
		Gate:      gate,
		Scrubber:  scrubber,
		Forwarder: client,
		Recorder:  recorder,
		Metrics:   m,
		Log:       log,
	})
	mgmtOpts := management.Options{
		Config:  cfg,
		Metrics: m,
		Rules: management.Rules{
			Redaction:  rules.Names(),
			RedFlags:   gate.Detector().Keywords(),
			NERBackend: ex.Name(),
			Personas:   personaNames(),
			Empathies:  empathyNames(),
		},
		Audit:     lookup,
		AuditSink: sink.Name(),
		Log:       log.Module("management"),
	}
	if c, ok := ex.(*ner.Cached); ok {
		mgmtOpts.NERCache = c
	}
	mgmt := management.New(mgmtOpts)

	log.Infof("startup", "rules=%v red_flags=%d audit=%s provider=%s",
		rules.Names(), len(gate.Detector().Keywords()), sink.Name(), client.Endpoint())

	return &app{
		cfg:      cfg,
		log:      log,
		chat:     chat,
		mgmt:     mgmt,
		recorder: recorder,
		ner:      ex.Name(),
		rules:    rules.Names(),
	}, nil
}

func personaNames() []string {
	var out []string
	for _, p := range prompt.Personas() {
		out = append(out, string(p))
	}
	return out
}

func empathyNames() []string {
	var out []string
	for _, e := range prompt.Empathies() {
		out = append(out, string(e))
	}
	return out
}

// chatHandler serves the chat API over HTTP/1.1 and cleartext HTTP/2.
func (a *app) chatHandler() http.Handler {
	return h2c.NewHandler(a.chat.Handler(), &http2.Server{})
}

func (a *app) chatAddr() string {
	return fmt.Sprintf("%s:%d", a.cfg.BindAddress, a.cfg.Port)
}

// serve runs both listeners until ctx is cancelled or one of them fails,
// then shuts down and waits for pending audit writes.
func (a *app) serve(ctx context.Context) error {
	chatSrv := a.chat.HTTPServer(a.chatAddr(), a.chatHandler())
	mgmtSrv := a.mgmt.HTTPServer()

	errc := make(chan error, 2)
	go func() {
		a.log.Infof("listen", "chat API on %s", chatSrv.Addr)
		errc <- fmt.Errorf("chat: %w", chatSrv.ListenAndServe())
	}()
	go func() {
		a.log.Infof("listen", "management API on %s", mgmtSrv.Addr)
		errc <- fmt.Errorf("management: %w", mgmtSrv.ListenAndServe())
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown", "signal received")
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, srv := range []*http.Server{chatSrv, mgmtSrv} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warnf("shutdown", "%s: %v", srv.Addr, err)
		}
	}
	if err := a.chat.Drain(shutdownCtx); err != nil {
		a.log.Warnf("shutdown", "pending audit writes abandoned: %v", err)
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func (a *app) close() {
	if err := a.recorder.Close(); err != nil {
		a.log.Warnf("shutdown", "close audit sink: %v", err)
	}
}

func printBanner(cfg *config.Config, a *app) {
	token := "(none: management API is open)"
	if cfg.ManagementToken != "" {
		token = "(set)"
	}
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Clinical Chat Gateway  (Go)                 ║
╚══════════════════════════════════════════════════════╝
  Chat port        : %d
  Management port  : %d
  Management token : %s
  Provider         : %s
  API key env      : %s
  NER backend      : %s
  Redaction rules  : %v
  Audit sink       : %s

  Send a chat:
    curl -N -d '{"messages":[{"role":"user","content":"hi"}]}' http://localhost:%d/

  Check status:
    curl http://localhost:%d/status
`, cfg.Port, cfg.ManagementPort, token,
		cfg.ProviderURL, cfg.APIKeyEnv,
		a.ner, a.rules, a.recorder.SinkName(),
		cfg.Port, cfg.ManagementPort)
}
