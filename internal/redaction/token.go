// Package redaction scrubs personally identifiable and protected health
// information out of free text before it leaves the trust boundary.
//
// A RuleSet is an ordered list of independent detectors. The Scrubber applies
// them one after another over the same string; every match is replaced by a
// bracketed token such as [REDACTED_EMAIL]. Order matters: later rules see the
// output of earlier ones, and no token text can be re-matched because tokens
// contain no digits and no '@'.
//
// A rule that errors or panics is skipped. The scrub then continues with the
// remaining rules and the Result carries a Warning, so callers can tell a fully
// scrubbed string from a degraded one.
package redaction

// Token names the category of a redacted span.
type Token string

// Redaction tokens, in the order the default rule set emits them.
const (
	TokenEmail      Token = "EMAIL"
	TokenSSN        Token = "SSN"
	TokenDOB        Token = "DOB"
	TokenMRN        Token = "MRN"
	TokenPhone      Token = "PHONE"
	TokenCreditCard Token = "CREDIT_CARD"
	TokenName       Token = "NAME"
	TokenLocation   Token = "LOCATION"
	TokenID         Token = "ID"
)

// AllTokens lists every token the default rules can produce.
var AllTokens = []Token{
	TokenEmail, TokenSSN, TokenDOB, TokenMRN, TokenPhone,
	TokenCreditCard, TokenName, TokenLocation, TokenID,
}

// TokenNames returns AllTokens as strings, for metric registration.
func TokenNames() []string {
	names := make([]string, len(AllTokens))
	for i, t := range AllTokens {
		names[i] = string(t)
	}
	return names
}

// Placeholder returns the replacement text for t, e.g. "[REDACTED_EMAIL]".
func (t Token) Placeholder() string {
	return "[REDACTED_" + string(t) + "]"
}

// Counts tallies replacements per token.
type Counts map[Token]int

// Total returns the sum of all counts.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

func (c Counts) merge(other Counts) {
	for k, v := range other {
		c[k] += v
	}
}
