// Package naming converts SQL schema names and operation identifiers into
// protocol names (entity types, entity sets, properties, operations),
// including pluralization, collision detection, and reserved word handling.
package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Config customizes pluralization. Override keys match case-insensitively.
type Config struct {
	// PluralOverrides maps singular to plural, e.g. {"Status": "Statuses"}.
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`
	// SingularOverrides maps plural to singular, e.g. {"data": "datum"}.
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`
}

// DefaultConfig returns a Config without overrides.
func DefaultConfig() Config {
	return Config{
		PluralOverrides:   map[string]string{},
		SingularOverrides: map[string]string{},
	}
}

// Pluralize returns the plural of word, preferring a configured override.
func (n *Namer) Pluralize(word string) string {
	return inflect(word, n.config.PluralOverrides, inflection.Plural)
}

// Singularize returns the singular of word, preferring a configured override.
func (n *Namer) Singularize(word string) string {
	return inflect(word, n.config.SingularOverrides, inflection.Singular)
}

func inflect(word string, overrides map[string]string, fallback func(string) string) string {
	if override, ok := overrides[word]; ok {
		return override
	}
	for from, to := range overrides {
		if strings.EqualFold(from, word) {
			return to
		}
	}
	return fallback(word)
}
