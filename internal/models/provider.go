// Package models defines data structures and domain types.
package models

import "fmt"

// Provider identifies one of the supported AI CLI service families.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
	ProviderGemini Provider = "gemini"
)

// AllProviders returns the fixed provider set in display order.
func AllProviders() []Provider {
	return []Provider{ProviderClaude, ProviderCodex, ProviderGemini}
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderClaude, ProviderCodex, ProviderGemini:
		return true
	}
	return false
}

// ParseProvider converts a string into a Provider, rejecting unknown values.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider: %q", s)
	}
	return p, nil
}

func (p Provider) String() string {
	return string(p)
}
