// Package persona holds the static assistant identity injected into every
// system prompt, plus the modality capability blocks appended to it.
package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Capability describes one modality the persona may advertise.
type Capability struct {
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description,omitempty"`
}

type Capabilities struct {
	Vision Capability `yaml:"vision"`
	Audio  Capability `yaml:"audio"`
	Video  Capability `yaml:"video"`
}

// Persona is a process-wide configuration value: loaded once at startup,
// never mutated afterwards.
type Persona struct {
	Name         string       `yaml:"name,omitempty"`
	Identity     string       `yaml:"identity"`
	Logic        string       `yaml:"logic"`
	Capabilities Capabilities `yaml:"capabilities"`
}

// Default returns the built-in Ced persona.
func Default() Persona {
	return Persona{
		Name: "Ced",
		Identity: "Ced — AI assistant for Velocity Leads, supporting Daren Horwood (Hordy), Director. " +
			"Direct, efficient, peer-to-peer communication style. Prefers structured responses with " +
			"tables and checklists (ADHD-friendly).",
		Logic: "Lead generation business, CRM systems, business development, Australian business services, " +
			"client acquisition strategies. Currently building Ascend Membership referral system using " +
			"FlutterFlow and Firebase, deployed on Google Cloud Run via Firebase Hosting Proxy.",
		Capabilities: Capabilities{
			Vision: Capability{Enabled: true, Description: "Analyze images, screenshots, documents, charts"},
			Audio:  Capability{Enabled: true, Description: "Process voice messages, transcribe speech"},
			Video:  Capability{Enabled: true, Description: "Analyze video content, demos, recordings"},
		},
	}
}

// LoadFile reads a persona from a YAML file. Missing fields fall back to
// the built-in default so a partial file only overrides what it sets.
func LoadFile(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("cannot read persona file %s: %w", path, err)
	}

	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("cannot parse persona file %s: %w", path, err)
	}
	if p.Identity == "" {
		return Persona{}, fmt.Errorf("persona file %s: identity is required", path)
	}
	return p, nil
}
