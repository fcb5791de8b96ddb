package redaction

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"clinical-chat-gateway/internal/ner"
)

// Rule turns one category of sensitive text into redaction tokens.
// Apply returns the rewritten text and records each replacement in counts.
// Implementations must not keep per-call state.
type Rule interface {
	Name() string
	Apply(ctx context.Context, text string, counts Counts) (string, error)
}

// RuleSet is an immutable, ordered list of rules.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet builds a RuleSet that applies rules in the given order.
func NewRuleSet(rules ...Rule) RuleSet {
	return RuleSet{rules: append([]Rule(nil), rules...)}
}

// Names returns the rule names in application order.
func (rs RuleSet) Names() []string {
	out := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.Name()
	}
	return out
}

// Len returns the number of rules.
func (rs RuleSet) Len() int { return len(rs.rules) }

// Options tunes the default rule set.
type Options struct {
	// PhoneRegion is the ISO 3166 region used to parse numbers without a
	// country prefix. Empty means "US".
	PhoneRegion string
	// Entities finds person and place names. Nil disables the entity rule.
	Entities ner.Extractor
}

// DefaultRules returns the standard eight-step rule order:
// email, SSN, date of birth, MRN, phone, credit card, named entities, generic ID.
func DefaultRules(opts Options) RuleSet {
	rules := []Rule{
		EmailRule(),
		SSNRule(),
		DOBRule(),
		MRNRule(),
		PhoneRule(opts.PhoneRegion),
		CreditCardRule(),
	}
	if opts.Entities != nil {
		rules = append(rules, EntityRule(opts.Entities))
	}
	rules = append(rules, GenericIDRule())
	return NewRuleSet(rules...)
}

// patternRule replaces every match of re that passes accept.
type patternRule struct {
	name   string
	re     *regexp.Regexp
	token  Token
	accept func(match string) bool
}

func (p patternRule) Name() string { return p.name }

func (p patternRule) Apply(_ context.Context, text string, counts Counts) (string, error) {
	out := p.re.ReplaceAllStringFunc(text, func(m string) string {
		if p.accept != nil && !p.accept(m) {
			return m
		}
		counts[p.token]++
		return p.token.Placeholder()
	})
	return out, nil
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ssnPattern   = regexp.MustCompile(`\d{3}-\d{2}-\d{4}`)
	// MM/DD/YYYY, M/D/YY and YYYY-MM-DD. Shape only: 99/99/9999 matches too.
	dobPattern = regexp.MustCompile(`\b(?:\d{1,2}/\d{1,2}/(?:\d{4}|\d{2})|\d{4}-\d{2}-\d{2})\b`)
	mrnPattern = regexp.MustCompile(`(?i)\bMRN[\s:#-]*\d+`)
	idPattern  = regexp.MustCompile(`\b[A-Z0-9]{6,9}\b`)
)

// EmailRule redacts local@domain.tld shapes.
func EmailRule() Rule {
	return patternRule{name: "email", re: emailPattern, token: TokenEmail}
}

// SSNRule redacts ddd-dd-dddd.
func SSNRule() Rule {
	return patternRule{name: "ssn", re: ssnPattern, token: TokenSSN}
}

// DOBRule redacts date-shaped numbers without checking calendar validity.
func DOBRule() Rule {
	return patternRule{name: "dob", re: dobPattern, token: TokenDOB}
}

// MRNRule redacts "MRN" (any case) followed by digits.
func MRNRule() Rule {
	return patternRule{name: "mrn", re: mrnPattern, token: TokenMRN}
}

// GenericIDRule redacts uppercase alphanumeric tokens of length 6-9 that
// contain at least one digit. All-letter words are left alone.
func GenericIDRule() Rule {
	return patternRule{name: "generic_id", re: idPattern, token: TokenID, accept: hasDigit}
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
