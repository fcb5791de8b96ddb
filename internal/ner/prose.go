package ner

import (
	"context"
	"fmt"
	"sync"

	"github.com/jdkato/prose/v2"
)

// Prose runs the prose NER model in-process. The model ships inside the
// library, so there is no network dependency. It is built once, on first
// use, and shared by every later call.
type Prose struct {
	once     sync.Once
	model    *prose.Model
	modelErr error
}

// NewProse returns a prose-backed Extractor.
func NewProse() *Prose { return &Prose{} }

// loadModel builds the tagger and entity extractor from a warm-up document.
// The model is read-only after construction.
func (p *Prose) loadModel() (*prose.Model, error) {
	p.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				p.modelErr = fmt.Errorf("prose model panic: %v", r)
			}
		}()
		doc, err := prose.NewDocument("warm up",
			prose.WithSegmentation(false),
			prose.WithTagging(true),
			prose.WithExtraction(true),
		)
		if err != nil {
			p.modelErr = fmt.Errorf("load prose model: %w", err)
			return
		}
		p.model = doc.Model
	})
	return p.model, p.modelErr
}

func (p *Prose) Name() string { return "prose" }

// Extract tags the text and keeps PERSON and GPE entities.
func (p *Prose) Extract(ctx context.Context, text string) (ents []Entity, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// prose panics on some degenerate token sequences.
	defer func() {
		if r := recover(); r != nil {
			ents, err = nil, fmt.Errorf("prose panic: %v", r)
		}
	}()

	model, err := p.loadModel()
	if err != nil {
		return nil, err
	}
	doc, err := prose.NewDocument(text,
		prose.UsingModel(model),
		prose.WithSegmentation(false),
		prose.WithTagging(true),
		prose.WithExtraction(true),
	)
	if err != nil {
		return nil, fmt.Errorf("prose document: %w", err)
	}
	for _, e := range doc.Entities() {
		switch e.Label {
		case "PERSON":
			ents = append(ents, Entity{Text: e.Text, Kind: KindPerson})
		case "GPE":
			ents = append(ents, Entity{Text: e.Text, Kind: KindPlace})
		}
	}
	return ents, nil
}
