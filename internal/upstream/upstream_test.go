package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clinical-chat-gateway/internal/conversation"
	"clinical-chat-gateway/internal/redaction"
)

func scrubbed(msgs ...conversation.Message) redaction.Scrubbed {
	s := redaction.NewScrubber(redaction.DefaultRules(redaction.Options{}), nil)
	return s.ScrubConversation(context.Background(), msgs)
}

func TestForwardStreamsBody(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"x\":1}\n\ndata: [DONE]\n\n") //nolint:errcheck
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/v1/"})
	conv := scrubbed(conversation.Message{Role: conversation.RoleUser, Content: "mail x@y.com"})
	st, err := c.Forward(context.Background(), Request{APIKey: "sk-test", Model: "m1", SystemPrompt: "be nice", Conversation: conv})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	defer st.Close()

	body, _ := io.ReadAll(st.Body)
	if string(body) != "data: {\"x\":1}\n\ndata: [DONE]\n\n" {
		t.Errorf("body = %q", body)
	}
	if st.ContentType != "text/event-stream" {
		t.Errorf("content type = %q", st.ContentType)
	}
	if !got.Stream || got.Model != "m1" || len(got.Messages) != 2 {
		t.Fatalf("request = %+v", got)
	}
	if got.Messages[0].Role != conversation.RoleSystem || got.Messages[0].Content != "be nice" {
		t.Errorf("system message = %+v", got.Messages[0])
	}
	if got.Messages[1].Content != "mail [REDACTED_EMAIL]" {
		t.Errorf("user message = %+v", got.Messages[1])
	}
}

func TestForwardMissingKey(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.Forward(context.Background(), Request{APIKey: " "}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v", err)
	}
}

func TestForwardProviderError(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"openai shape", 401, `{"error":{"message":"Invalid API key","type":"auth"}}`, "Provider Error (401): Invalid API key"},
		{"flat error", 429, `{"error":"rate limited"}`, "Provider Error (429): rate limited"},
		{"message", 400, `{"message":"model not found"}`, "Provider Error (400): model not found"},
		{"raw text", 502, "upstream down\n", "Provider Error (502): upstream down"},
		{"empty", 503, "", "Provider Error (503): 503 Service Unavailable"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				io.WriteString(w, c.body) //nolint:errcheck
			}))
			defer srv.Close()

			_, err := New(Options{BaseURL: srv.URL}).Forward(context.Background(), Request{APIKey: "k", Conversation: scrubbed()})
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ProviderError", err)
			}
			if pe.Status != c.status || pe.Error() != c.want {
				t.Errorf("got %q (status %d), want %q", pe.Error(), pe.Status, c.want)
			}
		})
	}
}

func TestErrorDetailTruncates(t *testing.T) {
	long := strings.Repeat("x", maxDetail*2)
	if got := errorDetail([]byte(long), "500"); len(got) != maxDetail+3 {
		t.Errorf("len = %d", len(got))
	}
}

func TestForwardCancelAbortsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: first\n\n") //nolint:errcheck
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	st, err := New(Options{BaseURL: srv.URL}).Forward(ctx, Request{APIKey: "k", Conversation: scrubbed()})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	defer st.Close()

	buf := make([]byte, len("data: first\n\n"))
	if _, err := io.ReadFull(st.Body, buf); err != nil {
		t.Fatalf("read first chunk: %v", err)
	}

	cancel()
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(st.Body)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected read error after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream not aborted after cancel")
	}
}
