// Package ner extracts person and place names from free text.
//
// Extraction is statistical and best-effort: callers must treat an error as
// "fewer redactions applied", never as a reason to fail the request.
// Three backends are available:
//   - prose : in-process averaged-perceptron NER (github.com/jdkato/prose/v2)
//   - ollama: a local Ollama model asked for a JSON list of names
//   - none  : extracts nothing
package ner

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an extracted entity.
type Kind string

// Entity kinds the redaction pipeline understands.
const (
	KindPerson Kind = "person"
	KindPlace  Kind = "place"
)

// Entity is one detected span, identified by its exact text.
type Entity struct {
	Text string `json:"text"`
	Kind Kind   `json:"type"`
}

// Extractor finds person and place entities in text.
// Implementations must be safe for concurrent use.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, text string) ([]Entity, error)
}

// Options configures New.
type Options struct {
	Backend        string // "prose", "ollama" or "none"
	OllamaEndpoint string
	OllamaModel    string
	Timeout        time.Duration
	CacheSize      int // results kept by NewCached; 0 disables
}

// New returns the extractor selected by opts.Backend, cached when
// opts.CacheSize > 0.
func New(opts Options) (Extractor, error) {
	var ex Extractor
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "prose":
		ex = NewProse()
	case "ollama":
		ex = NewOllama(opts.OllamaEndpoint, opts.OllamaModel, opts.Timeout)
	case "none", "off":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown NER backend %q", opts.Backend)
	}
	if opts.CacheSize > 0 {
		return NewCached(ex, opts.CacheSize), nil
	}
	return ex, nil
}

// Nop is an Extractor that never finds anything.
type Nop struct{}

func (Nop) Name() string { return "none" }

func (Nop) Extract(context.Context, string) ([]Entity, error) { return nil, nil }
