package types

import (
	"slices"
	"strings"
)

// Category groups modules for search
type Category string

const (
	CategoryService     Category = "service"
	CategoryApplication Category = "application"
	CategorySystem      Category = "system"
	CategoryNetwork     Category = "network"
	CategoryProcess     Category = "process"
)

// Protocols lists the optional wire protocols a module accepts.
// Text (JSON) is always supported and therefore not listed.
type Protocols struct {
	Binary     bool `json:"binary,omitempty" yaml:"binary,omitempty" toml:"binary,omitempty"`
	Structured bool `json:"structured,omitempty" yaml:"structured,omitempty" toml:"structured,omitempty"`
}

// Manifest describes an installed module. It is immutable after install;
// use Clone before handing it out.
type Manifest struct {
	ID          string     `json:"id" yaml:"id" toml:"id"`
	Name        string     `json:"name" yaml:"name" toml:"name"`
	Version     string     `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Categories  []Category `json:"categories,omitempty" yaml:"categories,omitempty" toml:"categories,omitempty"`
	DeepLinks   []string   `json:"deep_links,omitempty" yaml:"deep_links,omitempty" toml:"deep_links,omitempty"`
	Protocols   Protocols  `json:"protocols" yaml:"protocols,omitempty" toml:"protocols,omitempty"`
}

// Clone returns a deep copy
func (m Manifest) Clone() Manifest {
	m.Categories = slices.Clone(m.Categories)
	m.DeepLinks = slices.Clone(m.DeepLinks)
	return m
}

// HasCategory reports whether the module is tagged with c
func (m Manifest) HasCategory(c Category) bool {
	return slices.Contains(m.Categories, c)
}

// MatchDeepLink returns the first advertised prefix that target starts with.
func (m Manifest) MatchDeepLink(target string) (string, bool) {
	for _, prefix := range m.DeepLinks {
		if prefix != "" && strings.HasPrefix(target, prefix) {
			return prefix, true
		}
	}
	return "", false
}
