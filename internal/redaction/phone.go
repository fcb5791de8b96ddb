package redaction

import (
	"context"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var (
	phoneShape = regexp.MustCompile(`\+?\d[\d\s\-()]{6,}\d`)
	// Any run of phone-ish characters; digit count is checked afterwards.
	phoneRun = regexp.MustCompile(`[\d\s\-()+]{7,}`)
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

type phoneRule struct {
	region string
}

// PhoneRule redacts phone numbers in two passes. The first validates loose
// phone-shaped candidates against the numbering plan for region. The second
// redacts any remaining run of digits, spaces, dashes, parentheses and plus
// signs holding 7 to 15 digits, validated or not. The second pass also hits
// plain numbers such as order IDs.
func PhoneRule(region string) Rule {
	if region == "" {
		region = "US"
	}
	return phoneRule{region: strings.ToUpper(region)}
}

func (p phoneRule) Name() string { return "phone" }

func (p phoneRule) Apply(_ context.Context, text string, counts Counts) (string, error) {
	text = phoneShape.ReplaceAllStringFunc(text, func(m string) string {
		num, err := phonenumbers.Parse(m, p.region)
		if err != nil || !phonenumbers.IsValidNumber(num) {
			return m
		}
		counts[TokenPhone]++
		return TokenPhone.Placeholder()
	})

	return replaceRuns(text, func(run string) bool {
		n := countDigits(run)
		return n >= minPhoneDigits && n <= maxPhoneDigits
	}, TokenPhone, counts), nil
}

// replaceRuns redacts the trimmed core of each phoneRun match accepted by
// keep. Leading and trailing whitespace of the run is left in place.
func replaceRuns(text string, keep func(string) bool, tok Token, counts Counts) string {
	locs := phoneRun.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range locs {
		run := text[loc[0]:loc[1]]
		core := strings.TrimSpace(run)
		if core == "" || !keep(core) {
			continue
		}
		start := loc[0] + strings.Index(run, core)
		b.WriteString(text[last:start])
		b.WriteString(tok.Placeholder())
		counts[tok]++
		last = start + len(core)
	}
	b.WriteString(text[last:])
	return b.String()
}
