package redaction

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"clinical-chat-gateway/internal/ner"
)

type entityRule struct {
	ex ner.Extractor
}

// EntityRule redacts person and place names found by ex. Names that overlap
// an existing token are skipped.
func EntityRule(ex ner.Extractor) Rule {
	return entityRule{ex: ex}
}

func (e entityRule) Name() string { return "entities/" + e.ex.Name() }

func (e entityRule) Apply(ctx context.Context, text string, counts Counts) (string, error) {
	ents, err := e.ex.Extract(ctx, text)
	if err != nil {
		return text, fmt.Errorf("extract entities: %w", err)
	}
	if len(ents) == 0 {
		return text, nil
	}

	// Longest first so "Maria Lopez" wins over "Maria".
	sort.SliceStable(ents, func(i, j int) bool { return len(ents[i].Text) > len(ents[j].Text) })

	seen := make(map[string]bool, len(ents))
	for _, ent := range ents {
		if ent.Text == "" || seen[ent.Text] || touchesToken(ent.Text) {
			continue
		}
		seen[ent.Text] = true

		tok := TokenName
		if ent.Kind == ner.KindPlace {
			tok = TokenLocation
		}
		re, err := regexp.Compile(boundedLiteral(ent.Text))
		if err != nil {
			return text, fmt.Errorf("compile entity pattern: %w", err)
		}
		text = re.ReplaceAllStringFunc(text, func(string) string {
			counts[tok]++
			return tok.Placeholder()
		})
	}
	return text, nil
}

func touchesToken(s string) bool {
	return strings.ContainsAny(s, "[]") || strings.Contains(s, "REDACTED")
}

// boundedLiteral matches s literally, anchored on word boundaries at each end
// that starts or finishes with a word character.
func boundedLiteral(s string) string {
	pat := regexp.QuoteMeta(s)
	runes := []rune(s)
	if isWordRune(runes[0]) {
		pat = `\b` + pat
	}
	if isWordRune(runes[len(runes)-1]) {
		pat += `\b`
	}
	return pat
}

// isWordRune mirrors the ASCII-only \b of the regexp package.
func isWordRune(r rune) bool {
	return r == '_' || r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
