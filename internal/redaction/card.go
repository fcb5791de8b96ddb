package redaction

import "regexp"

// 13-19 digits, optionally grouped with single spaces or dashes.
var cardPattern = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)

// CreditCardRule redacts card-number candidates that pass the Luhn check.
func CreditCardRule() Rule {
	return patternRule{name: "credit_card", re: cardPattern, token: TokenCreditCard, accept: luhnValid}
}

// luhnValid reports whether the digits in s form a valid Luhn number.
// Separators are ignored.
func luhnValid(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n > 0 && sum%10 == 0
}
