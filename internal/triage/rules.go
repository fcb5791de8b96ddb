package triage

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules is the on-disk form of the triage configuration.
//
//	red_flags:
//	  - chest pain
//	  - suicide
//	emergency_template: "Call 911 now ({flags})."
type Rules struct {
	RedFlags          []string `yaml:"red_flags"`
	EmergencyTemplate string   `yaml:"emergency_template"`
}

// DefaultRules returns the built-in keyword list and template.
func DefaultRules() Rules {
	return Rules{
		RedFlags:          append([]string(nil), DefaultRedFlags...),
		EmergencyTemplate: DefaultEmergencyTemplate,
	}
}

// LoadRules reads a YAML rules file. An empty path or a missing file yields
// DefaultRules. A file that sets no red flags keeps the default list, and one
// without a template keeps the default template.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRules(), nil
		}
		return Rules{}, fmt.Errorf("read triage rules: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse triage rules %s: %w", path, err)
	}
	def := DefaultRules()
	if len(r.RedFlags) == 0 {
		r.RedFlags = def.RedFlags
	}
	if r.EmergencyTemplate == "" {
		r.EmergencyTemplate = def.EmergencyTemplate
	}
	return r, nil
}

// Gate builds a Gate from the rules.
func (r Rules) Gate() *Gate {
	return NewGate(NewDetector(r.RedFlags), r.EmergencyTemplate)
}
