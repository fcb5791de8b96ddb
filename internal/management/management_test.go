package management

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"clinical-chat-gateway/internal/audit"
	"clinical-chat-gateway/internal/config"
	"clinical-chat-gateway/internal/conversation"
	"clinical-chat-gateway/internal/logger"
	"clinical-chat-gateway/internal/metrics"
	"clinical-chat-gateway/internal/redaction"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:           8080,
		ManagementPort: 8081,
		BindAddress:    "127.0.0.1",
		ProviderURL:    "https://llm.example/v1",
		ModelEnv:       "LLM_MODEL",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "qwen2.5:3b",
	}
}

func newTestServer(token string) *Server {
	cfg := testConfig()
	cfg.ManagementToken = token
	return New(Options{
		Config:    cfg,
		Metrics:   metrics.New("EMAIL"),
		Rules: Rules{
			Redaction:  []string{"email", "ssn"},
			RedFlags:   []string{"chest pain"},
			NERBackend: "ollama",
			Personas:   []string{"default", "pediatric_nurturing"},
			Empathies:  []string{"default", "high"},
		},
		AuditSink: "log",
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatus_OK(t *testing.T) {
	w := do(t, newTestServer("").Handler(), http.MethodGet, "/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["status"] != "running" {
		t.Errorf("expected status=running, got %v", resp["status"])
	}
	ner, _ := resp["ner"].(map[string]any)
	if ner["backend"] != "ollama" || ner["model"] != "qwen2.5:3b" {
		t.Errorf("ner = %v", resp["ner"])
	}
}

func TestAuth(t *testing.T) {
	cases := []struct {
		name  string
		token string
		hdr   string
		want  int
	}{
		{"no token configured", "", "", http.StatusOK},
		{"valid token", "secret123", "Bearer secret123", http.StatusOK},
		{"invalid token", "secret123", "Bearer wrong", http.StatusUnauthorized},
		{"missing token", "secret123", "", http.StatusUnauthorized},
		{"wrong scheme", "secret123", "Basic secret123", http.StatusUnauthorized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			hdr := map[string]string{}
			if c.hdr != "" {
				hdr["Authorization"] = c.hdr
			}
			w := do(t, newTestServer(c.token).Handler(), http.MethodGet, "/status", "", hdr)
			if w.Code != c.want {
				t.Errorf("got %d, want %d", w.Code, c.want)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer("")
	srv.metrics.RequestsTotal.Add(3)
	w := do(t, srv.Handler(), http.MethodGet, "/metrics", "", nil)
	var snap metrics.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Requests.Total != 3 {
		t.Errorf("total = %d", snap.Requests.Total)
	}

	srv.metrics = nil
	if w := do(t, srv.Handler(), http.MethodGet, "/metrics", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("nil metrics: got %d", w.Code)
	}
}

func TestRules(t *testing.T) {
	w := do(t, newTestServer("").Handler(), http.MethodGet, "/rules", "", nil)
	var got Rules
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Redaction) != 2 || got.RedFlags[0] != "chest pain" {
		t.Errorf("rules = %+v", got)
	}
	if len(got.Personas) != 2 || got.Personas[1] != "pediatric_nurturing" || got.Empathies[1] != "high" {
		t.Errorf("prompt choices = %v %v", got.Personas, got.Empathies)
	}
}

type fakeCache struct{}

func (fakeCache) Stats() (int64, int64, int) { return 5, 2, 3 }

func TestStatus_CacheAndAuditCount(t *testing.T) {
	w := do(t, newTestServer("").Handler(), http.MethodGet, "/status", "", nil)
	var bare map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &bare); err != nil {
		t.Fatal(err)
	}
	if _, ok := bare["auditRecords"]; ok {
		t.Errorf("log sink reported a record count: %s", w.Body.String())
	}
	if ner, _ := bare["ner"].(map[string]any); ner["cache"] != nil {
		t.Errorf("cache stats without a cache: %s", w.Body.String())
	}

	sink, err := audit.OpenBolt(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	rec := audit.NewRecorder(sink, nil)
	for i := 0; i < 2; i++ {
		conv := redaction.NewScrubber(redaction.DefaultRules(redaction.Options{}), nil).
			ScrubConversation(context.Background(), []conversation.Message{{Role: conversation.RoleUser, Content: "hello"}})
		if _, err := rec.Record(context.Background(), conv, audit.Meta{Persona: "default"}); err != nil {
			t.Fatal(err)
		}
	}

	srv := New(Options{
		Config:    testConfig(),
		Rules:     Rules{NERBackend: "prose"},
		Audit:     sink,
		AuditSink: sink.Name(),
		NERCache:  fakeCache{},
	})
	w = do(t, srv.Handler(), http.MethodGet, "/status", "", nil)
	var resp struct {
		NER struct {
			Cache *cacheStatus `json:"cache"`
		} `json:"ner"`
		AuditRecords *int `json:"auditRecords"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if c := resp.NER.Cache; c == nil || c.Hits != 5 || c.Misses != 2 || c.Size != 3 {
		t.Errorf("cache = %+v", resp.NER.Cache)
	}
	if resp.AuditRecords == nil || *resp.AuditRecords != 2 {
		t.Errorf("auditRecords = %v (%s)", resp.AuditRecords, w.Body.String())
	}
}

func TestAudit_NotSupported(t *testing.T) {
	w := do(t, newTestServer("").Handler(), http.MethodGet, "/audit/abc", "", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("got %d", w.Code)
	}
}

func TestAudit_Lookup(t *testing.T) {
	sink, err := audit.OpenBolt(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	conv := redaction.NewScrubber(redaction.DefaultRules(redaction.Options{}), nil).
		ScrubConversation(context.Background(), []conversation.Message{{Role: conversation.RoleUser, Content: "SSN 123-45-6789"}})
	e, err := audit.NewRecorder(sink, nil).Record(context.Background(), conv, audit.Meta{Persona: "default"})
	if err != nil {
		t.Fatal(err)
	}

	srv := New(Options{Config: testConfig(), Audit: sink, AuditSink: sink.Name()})
	w := do(t, srv.Handler(), http.MethodGet, "/audit/"+e.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	var rec audit.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID != e.ID || rec.Messages[0].Content != "SSN [REDACTED_SSN]" {
		t.Errorf("record = %+v", rec)
	}

	if w := do(t, srv.Handler(), http.MethodGet, "/audit/missing", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing id: got %d", w.Code)
	}
}

func TestLogLevel(t *testing.T) {
	log := logger.NewWithWriter("gateway", "info", io.Discard)
	srv := New(Options{Config: testConfig(), Log: log})
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/loglevel", `{"level":"DEBUG"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	if !log.Enabled(logger.LevelDebug) {
		t.Error("debug should be enabled after update")
	}

	for _, body := range []string{`{"level":"verbose"}`, `{}`, `not json`} {
		if w := do(t, h, http.MethodPost, "/loglevel", body, nil); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: got %d, want 400", body, w.Code)
		}
	}
	if w := do(t, h, http.MethodGet, "/loglevel", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /loglevel: got %d, want 405", w.Code)
	}
}

func TestAddr(t *testing.T) {
	if got := newTestServer("").Addr(); got != "127.0.0.1:8081" {
		t.Errorf("Addr = %q", got)
	}
}
