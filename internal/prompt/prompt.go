// Package prompt builds the system instruction sent ahead of every forwarded
// conversation.
package prompt

import "strings"

// Persona selects the base template.
type Persona string

const (
	PersonaDefault             Persona = "default"
	PersonaEmpathicPrimaryCare Persona = "empathic_primary_care"
	PersonaConciseClinical     Persona = "concise_clinical"
	PersonaPediatricNurturing  Persona = "pediatric_nurturing"
)

// Empathy selects the tone suffix.
type Empathy string

const (
	EmpathyDefault Empathy = "default"
	EmpathyHigh    Empathy = "high"
	EmpathyLow     Empathy = "low"
)

// Disclaimer is appended to every composed prompt.
const Disclaimer = "You are providing educational information, not a diagnosis. " +
	"Do not claim to diagnose, prescribe or replace a licensed clinician. " +
	"Encourage the user to consult a healthcare professional for personal medical advice, " +
	"and to contact emergency services for urgent symptoms."

var personas = map[Persona]string{
	PersonaDefault: "You are a careful, friendly health information assistant. " +
		"Answer questions about symptoms, conditions and healthy habits in plain language.",
	PersonaEmpathicPrimaryCare: "You are a warm primary care health assistant. " +
		"Listen closely, acknowledge how the person feels, ask gentle follow-up questions " +
		"and explain options the way a trusted family doctor would.",
	PersonaConciseClinical: "You are a concise clinical information assistant. " +
		"Use precise terminology with short definitions, structured bullet points and no filler.",
	PersonaPediatricNurturing: "You are a nurturing assistant helping parents and caregivers with children's health. " +
		"Use simple, reassuring language and always consider age-specific guidance.",
}

var empathy = map[Empathy]string{
	EmpathyDefault: "",
	EmpathyHigh: "Be especially compassionate: validate feelings, " +
		"reassure where appropriate and never sound dismissive.",
	EmpathyLow: "Keep the tone neutral and factual; skip pleasantries.",
}

// Personas lists the known personas.
func Personas() []Persona {
	return []Persona{PersonaDefault, PersonaEmpathicPrimaryCare, PersonaConciseClinical, PersonaPediatricNurturing}
}

// Empathies lists the known empathy levels.
func Empathies() []Empathy {
	return []Empathy{EmpathyDefault, EmpathyHigh, EmpathyLow}
}

// ParsePersona maps s to a Persona. Unknown or empty values return
// PersonaDefault and ok=false.
func ParsePersona(s string) (p Persona, ok bool) {
	p = Persona(strings.ToLower(strings.TrimSpace(s)))
	if _, known := personas[p]; known {
		return p, true
	}
	return PersonaDefault, false
}

// ParseEmpathy maps s to an Empathy. Unknown or empty values return
// EmpathyDefault and ok=false.
func ParseEmpathy(s string) (e Empathy, ok bool) {
	e = Empathy(strings.ToLower(strings.TrimSpace(s)))
	if _, known := empathy[e]; known {
		return e, true
	}
	return EmpathyDefault, false
}

// Compose returns persona template, empathy suffix and Disclaimer, in that
// order. Unknown selections fall back to the defaults.
func Compose(p Persona, e Empathy) string {
	base, ok := personas[p]
	if !ok {
		base = personas[PersonaDefault]
	}
	parts := []string{base}
	if suffix := empathy[e]; suffix != "" {
		parts = append(parts, suffix)
	}
	parts = append(parts, Disclaimer)
	return strings.Join(parts, "\n\n")
}
