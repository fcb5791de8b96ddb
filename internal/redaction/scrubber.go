package redaction

import (
	"context"
	"fmt"

	"clinical-chat-gateway/internal/conversation"
	"clinical-chat-gateway/internal/logger"
)

// Warning records a rule that failed during a scrub. Its output was discarded
// and the remaining rules still ran.
type Warning struct {
	Rule  string `json:"rule"`
	Error string `json:"error"`
}

func (w Warning) String() string { return w.Rule + ": " + w.Error }

// Result is the outcome of scrubbing one string.
type Result struct {
	Text     string
	Warnings []Warning
	Counts   Counts
}

// Degraded reports whether any rule failed, meaning Text may still hold
// sensitive spans that rule would have caught.
func (r Result) Degraded() bool { return len(r.Warnings) > 0 }

// Scrubber applies a RuleSet to text. It holds no per-call state and is safe
// for concurrent use.
type Scrubber struct {
	rules RuleSet
	log   *logger.Logger
}

// NewScrubber returns a Scrubber over rules. A nil log discards output.
func NewScrubber(rules RuleSet, log *logger.Logger) *Scrubber {
	if log == nil {
		log = logger.Discard()
	}
	return &Scrubber{rules: rules, log: log}
}

// Rules returns the rule set in use.
func (s *Scrubber) Rules() RuleSet { return s.rules }

// Scrub runs every rule over text in order.
func (s *Scrubber) Scrub(ctx context.Context, text string) Result {
	res := Result{Text: text, Counts: Counts{}}
	for _, r := range s.rules.rules {
		scratch := Counts{}
		out, err := applyRule(ctx, r, res.Text, scratch)
		if err != nil {
			w := Warning{Rule: r.Name(), Error: err.Error()}
			res.Warnings = append(res.Warnings, w)
			s.log.Warnf("scrub", "rule %s skipped: %s", w.Rule, w.Error)
			continue
		}
		res.Text = out
		res.Counts.merge(scratch)
	}
	return res
}

// applyRule converts a panicking rule into an error.
func applyRule(ctx context.Context, r Rule, text string, counts Counts) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = text, fmt.Errorf("panic: %v", p)
		}
	}()
	return r.Apply(ctx, text, counts)
}

// Scrubbed is a conversation whose message contents have all passed through
// a Scrubber. Its messages are unexported so that code accepting a Scrubbed
// can only ever see redacted text.
type Scrubbed struct {
	messages []conversation.Message
	Warnings []Warning
	Counts   Counts
}

// Messages returns a copy of the scrubbed messages.
func (c Scrubbed) Messages() []conversation.Message {
	return conversation.Clone(c.messages)
}

// Len returns the number of messages.
func (c Scrubbed) Len() int { return len(c.messages) }

// Degraded reports whether any message was scrubbed with a failed rule.
func (c Scrubbed) Degraded() bool { return len(c.Warnings) > 0 }

// ScrubConversation scrubs the content of every message. Roles and order are
// preserved; the input slice is not modified.
func (s *Scrubber) ScrubConversation(ctx context.Context, msgs []conversation.Message) Scrubbed {
	out := Scrubbed{
		messages: make([]conversation.Message, len(msgs)),
		Counts:   Counts{},
	}
	for i, m := range msgs {
		res := s.Scrub(ctx, m.Content)
		out.messages[i] = conversation.Message{Role: m.Role, Content: res.Text}
		out.Warnings = append(out.Warnings, res.Warnings...)
		out.Counts.merge(res.Counts)
	}
	return out
}
