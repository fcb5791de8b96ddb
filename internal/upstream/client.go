// Package upstream sends scrubbed conversations to an OpenAI-compatible
// chat-completions endpoint and hands back the raw streaming body.
//
// The response stream is never parsed or buffered here; callers copy it to
// their own writer. The outbound request is bound to the caller's context,
// so cancelling that context (for example a client disconnect) aborts the
// upstream read. There are no retries.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"clinical-chat-gateway/internal/conversation"
	"clinical-chat-gateway/internal/redaction"
)

// ErrMissingAPIKey is returned when no provider key is configured.
var ErrMissingAPIKey = errors.New("LLM API key is not configured")

const maxErrorBody = 8 << 10

// Options configures a Client.
type Options struct {
	// BaseURL is the provider root, e.g. "https://api.openai.com/v1".
	BaseURL string
	// ResponseHeaderTimeout bounds the wait for the first response header.
	// The stream itself has no deadline. Zero means 60s.
	ResponseHeaderTimeout time.Duration
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
}

// Client calls the completion provider.
type Client struct {
	endpoint string
	http     *http.Client
}

// New returns a Client for opts.BaseURL.
func New(opts Options) *Client {
	rt := opts.Transport
	if rt == nil {
		rt = newTransport(opts.ResponseHeaderTimeout)
	}
	return &Client{
		endpoint: strings.TrimRight(opts.BaseURL, "/") + "/chat/completions",
		// No Client.Timeout: it would cut long streams. Cancellation comes
		// from the request context.
		http: &http.Client{Transport: rt},
	}
}

func newTransport(headerTimeout time.Duration) http.RoundTripper {
	if headerTimeout <= 0 {
		headerTimeout = 60 * time.Second
	}
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	// Explicit h2 configuration; a custom Transport does not get it for free.
	if err := http2.ConfigureTransport(t); err != nil {
		t.ForceAttemptHTTP2 = true
	}
	return t
}

// Endpoint returns the full chat-completions URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Request is one forward call.
type Request struct {
	APIKey       string
	Model        string
	SystemPrompt string
	Conversation redaction.Scrubbed
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Stream   bool                   `json:"stream"`
	Messages []conversation.Message `json:"messages"`
}

// Stream is a successful upstream response. The caller must Close it.
type Stream struct {
	Status      int
	ContentType string
	Body        io.ReadCloser
}

func (s *Stream) Close() error { return s.Body.Close() }

// Forward posts the system prompt followed by the scrubbed history with
// stream=true. A non-2xx answer is returned as *ProviderError.
func (c *Client) Forward(ctx context.Context, req Request) (*Stream, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	msgs := make([]conversation.Message, 0, req.Conversation.Len()+1)
	msgs = append(msgs, conversation.Message{Role: conversation.RoleSystem, Content: req.SystemPrompt})
	msgs = append(msgs, req.Conversation.Messages()...)

	body, err := json.Marshal(chatRequest{Model: req.Model, Stream: true, Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call upstream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ProviderError{Status: resp.StatusCode, Detail: errorDetail(raw, resp.Status)}
	}
	return &Stream{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}
