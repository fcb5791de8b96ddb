package ner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewSelectsBackend(t *testing.T) {
	cases := []struct {
		backend string
		want    string
	}{
		{"", "prose"},
		{"prose", "prose"},
		{"OLLAMA", "ollama"},
		{"none", "none"},
		{"off", "none"},
	}
	for _, c := range cases {
		ex, err := New(Options{Backend: c.backend, OllamaEndpoint: "http://localhost:11434"})
		if err != nil {
			t.Fatalf("New(%q): %v", c.backend, err)
		}
		if ex.Name() != c.want {
			t.Errorf("New(%q).Name() = %q, want %q", c.backend, ex.Name(), c.want)
		}
	}
	if _, err := New(Options{Backend: "spacy"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNopExtractsNothing(t *testing.T) {
	ents, err := Nop{}.Extract(context.Background(), "Maria lives in Denver")
	if err != nil || len(ents) != 0 {
		t.Errorf("Nop.Extract = %v, %v", ents, err)
	}
}

func TestProseHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProse().Extract(ctx, "anything"); err == nil {
		t.Error("expected context error")
	}
}

func TestProseKeepsOnlyKnownKinds(t *testing.T) {
	ents, err := NewProse().Extract(context.Background(), "I saw my doctor yesterday about a headache.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, e := range ents {
		if e.Kind != KindPerson && e.Kind != KindPlace {
			t.Errorf("unexpected kind %q for %q", e.Kind, e.Text)
		}
	}
}

func TestProseBuildsModelOnce(t *testing.T) {
	p := NewProse()
	ctx := context.Background()
	if _, err := p.Extract(ctx, "Maria Lopez lives in Denver."); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	first, err := p.loadModel()
	if err != nil || first == nil {
		t.Fatalf("model not loaded: %v", err)
	}
	if _, err := p.Extract(ctx, "John Smith moved to Boston."); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if second, _ := p.loadModel(); second != first {
		t.Error("second extraction rebuilt the model")
	}
}

func TestProseConcurrentExtract(t *testing.T) {
	p := NewProse()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Extract(context.Background(), "Maria has a cough."); err != nil {
				t.Errorf("Extract: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestParseEntityArray(t *testing.T) {
	reply := "Sure! Here you go:\n" +
		`[{"text":" Maria Lopez ","type":"Person"},{"text":"Denver","type":"place"},{"text":"aspirin","type":"drug"},{"text":"","type":"person"}]` +
		"\nLet me know."
	ents, err := parseEntityArray(reply)
	if err != nil {
		t.Fatalf("parseEntityArray: %v", err)
	}
	if len(ents) != 2 {
		t.Fatalf("got %d entities, want 2: %+v", len(ents), ents)
	}
	if ents[0] != (Entity{Text: "Maria Lopez", Kind: KindPerson}) {
		t.Errorf("ents[0] = %+v", ents[0])
	}
	if ents[1] != (Entity{Text: "Denver", Kind: KindPlace}) {
		t.Errorf("ents[1] = %+v", ents[1])
	}
}

func TestParseEntityArrayNoArray(t *testing.T) {
	if _, err := parseEntityArray("I could not find any names."); err == nil {
		t.Error("expected error when reply has no array")
	}
}

func ollamaStub(t *testing.T, reply string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stream {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: reply}) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaExtractAndCache(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaStub(t, `[{"text":"Maria","type":"person"}]`, &calls)
	o := NewCached(NewOllama(srv.URL+"/", "test-model", time.Second), 16)

	for i := 0; i < 3; i++ {
		ents, err := o.Extract(context.Background(), "Maria has a cough")
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(ents) != 1 || ents[0].Text != "Maria" {
			t.Fatalf("unexpected entities %+v", ents)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("ollama called %d times, want 1 (cache)", n)
	}
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewOllama(srv.URL, "m", time.Second).Extract(context.Background(), "text"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestOllamaUnreachable(t *testing.T) {
	o := NewOllama("http://127.0.0.1:1", "m", 200*time.Millisecond)
	if _, err := o.Extract(context.Background(), "text"); err == nil {
		t.Error("expected dial error")
	}
}
