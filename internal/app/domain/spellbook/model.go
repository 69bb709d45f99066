// Package spellbook defines the routing table mapping spell names to cost,
// destinations and resolver.
package spellbook

import (
	"fmt"
	"strings"
)

// Destination names a peer service a spell is forwarded to.
type Destination struct {
	StopName string `json:"stopName" yaml:"stop_name"`
	StopURL  string `json:"stopURL" yaml:"stop_url"`
}

// RequiredNineum gates a creation-class spell on the caster holding a token
// matching the (system, galaxy, flavor) triple.
type RequiredNineum struct {
	System string `json:"system" yaml:"system"`
	Galaxy string `json:"galaxy" yaml:"galaxy"`
	Flavor string `json:"flavor" yaml:"flavor"`
}

// Entry is one spell definition in the routing table.
type Entry struct {
	Cost            int             `json:"cost" yaml:"cost"`
	Destinations    []Destination   `json:"destinations" yaml:"destinations"`
	Resolver        string          `json:"resolver" yaml:"resolver"`
	RequiredNineum  *RequiredNineum `json:"requiredNineum,omitempty" yaml:"required_nineum,omitempty"`
	FirstNBootstrap int             `json:"firstNBootstrap,omitempty" yaml:"first_n_bootstrap,omitempty"`
}

// Validate checks the fields an appended entry must carry.
func (e Entry) Validate() error {
	if e.Cost < 0 {
		return fmt.Errorf("cost must be non-negative")
	}
	if strings.TrimSpace(e.Resolver) == "" {
		return fmt.Errorf("resolver is required")
	}
	for i, d := range e.Destinations {
		if strings.TrimSpace(d.StopName) == "" {
			return fmt.Errorf("destination %d: stop name is required", i)
		}
		if strings.TrimSpace(d.StopURL) == "" {
			return fmt.Errorf("destination %d: stop URL is required", i)
		}
	}
	return nil
}

// Book is a versioned snapshot of the routing table. Version increments on
// every append so replicas can detect stale copies.
type Book struct {
	Version int              `json:"version" yaml:"version"`
	Spells  map[string]Entry `json:"spells" yaml:"spells"`
}

// Lookup returns the entry for name.
func (b Book) Lookup(name string) (Entry, bool) {
	e, ok := b.Spells[name]
	return e, ok
}
