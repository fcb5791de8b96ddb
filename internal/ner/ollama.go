package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxOllamaResponse = 4 << 20

// Ollama asks a local Ollama model to list person and place names. Wrap it
// in NewCached to avoid re-querying identical messages.
type Ollama struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewOllama creates an Ollama-backed Extractor. A zero timeout means 10s.
func NewOllama(endpoint, model string, timeout time.Duration) *Ollama {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ollama{
		url:     strings.TrimRight(endpoint, "/") + "/api/generate",
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (o *Ollama) Name() string { return "ollama" }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Extract queries the model synchronously under the configured timeout.
func (o *Ollama) Extract(ctx context.Context, text string) ([]Entity, error) {
	prompt := fmt.Sprintf(`List every person name and every place name (city, state, country, street, hospital or clinic) in the text below.
Return ONLY a JSON array. Each item must have:
- "text": the exact substring as it appears
- "type": "person" or "place"

Text:
%s

Example: [{"text":"Maria Lopez","type":"person"},{"text":"Denver","type":"place"}]`, text)

	body, err := json.Marshal(generateRequest{Model: o.model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req) // #nosec G107 -- endpoint comes from operator config
	if err != nil {
		return nil, fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponse))
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama status %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return nil, fmt.Errorf("parse ollama response: %w", err)
	}
	return parseEntityArray(gen.Response)
}

// parseEntityArray pulls the first JSON array out of a model reply and keeps
// the entries with a known kind and non-empty text.
func parseEntityArray(reply string) ([]Entity, error) {
	reply = strings.TrimSpace(reply)
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON array in model reply")
	}

	var items []Entity
	if err := json.Unmarshal([]byte(reply[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("parse entity array: %w", err)
	}

	out := items[:0]
	for _, it := range items {
		it.Text = strings.TrimSpace(it.Text)
		it.Kind = Kind(strings.ToLower(string(it.Kind)))
		if it.Text == "" || (it.Kind != KindPerson && it.Kind != KindPlace) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}
