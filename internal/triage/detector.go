// Package triage decides whether a conversation must be escalated to
// emergency guidance instead of being sent to the language model.
package triage

import (
	"strings"

	"clinical-chat-gateway/internal/conversation"
)

// DefaultRedFlags is the built-in emergency keyword list.
var DefaultRedFlags = []string{
	"chest pain",
	"difficulty breathing",
	"unable to breathe",
	"can't breathe",
	"shortness of breath",
	"suicide",
	"suicidal",
	"kill myself",
	"severe bleeding",
	"unconscious",
	"stroke",
	"seizure",
	"severe allergic",
	"anaphylaxis",
	"heart attack",
	"overdose",
}

// Detector matches red-flag keywords against the latest user message.
// Matching is case-insensitive substring containment, so "stroke" also
// fires on "heatstroke". The keyword list is the whole detection surface.
type Detector struct {
	keywords []string
}

// NewDetector builds a Detector over keywords. Keywords are lower-cased;
// blanks and duplicates are dropped and the first occurrence keeps its place.
func NewDetector(keywords []string) *Detector {
	seen := make(map[string]bool, len(keywords))
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		kw = append(kw, k)
	}
	return &Detector{keywords: kw}
}

// Keywords returns a copy of the active keyword list.
func (d *Detector) Keywords() []string {
	return append([]string(nil), d.keywords...)
}

// Match returns every keyword contained in text, in list order.
func (d *Detector) Match(text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, k := range d.keywords {
		if strings.Contains(lower, k) {
			hits = append(hits, k)
		}
	}
	return hits
}

// Detect runs Match over the most recent user message. Conversations without
// a user message never match.
func (d *Detector) Detect(msgs []conversation.Message) []string {
	latest, ok := conversation.LatestUser(msgs)
	if !ok {
		return nil
	}
	return d.Match(latest.Content)
}
