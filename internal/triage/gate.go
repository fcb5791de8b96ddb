package triage

import (
	"strings"

	"clinical-chat-gateway/internal/conversation"
)

// State is the outcome of the escalation gate for one request.
type State int

const (
	Normal State = iota
	Escalated
)

func (s State) String() string {
	if s == Escalated {
		return "ESCALATED"
	}
	return "NORMAL"
}

// DefaultEmergencyTemplate is the reply sent on escalation. {flags} is
// replaced with the matched keywords.
const DefaultEmergencyTemplate = "Your message mentions symptoms that may need urgent care ({flags}). " +
	"If you or someone else may be in danger, call your local emergency number (911 in the US) now " +
	"or go to the nearest emergency department. " +
	"If you are thinking about harming yourself, call or text 988 to reach the Suicide & Crisis Lifeline. " +
	"This assistant cannot provide emergency help."

// Decision is the gate's verdict.
type Decision struct {
	State   State
	Flags   []string
	Message string
}

// Escalated reports whether generation must be bypassed.
func (d Decision) Escalated() bool { return d.State == Escalated }

// Gate turns red-flag matches into a terminal emergency reply.
type Gate struct {
	detector *Detector
	template string
}

// NewGate returns a Gate. An empty template selects DefaultEmergencyTemplate.
func NewGate(d *Detector, template string) *Gate {
	if strings.TrimSpace(template) == "" {
		template = DefaultEmergencyTemplate
	}
	return &Gate{detector: d, template: template}
}

// Detector returns the underlying detector.
func (g *Gate) Detector() *Detector { return g.detector }

// Evaluate checks the latest user message. Any match escalates.
func (g *Gate) Evaluate(msgs []conversation.Message) Decision {
	flags := g.detector.Detect(msgs)
	if len(flags) == 0 {
		return Decision{State: Normal}
	}
	return Decision{
		State:   Escalated,
		Flags:   flags,
		Message: strings.ReplaceAll(g.template, "{flags}", strings.Join(flags, ", ")),
	}
}
