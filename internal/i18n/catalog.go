// Package i18n resolves display labels from a YAML catalog.
package i18n

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed labels.yaml
var defaultCatalog []byte

// DefaultLanguage is used when a requested language has no entries.
const DefaultLanguage = "en"

// Catalog maps label keys to strings for a single language.
type Catalog struct {
	lang   string
	labels map[string]string
}

// Load builds a catalog for lang from the embedded labels, overlaid with the
// file at overridePath when one is given.
func Load(lang, overridePath string) (*Catalog, error) {
	sets, err := parse(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("parse embedded labels: %w", err)
	}
	if overridePath != "" {
		raw, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read label catalog: %w", err)
		}
		overrides, err := parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse label catalog %s: %w", overridePath, err)
		}
		for code, labels := range overrides {
			if sets[code] == nil {
				sets[code] = map[string]string{}
			}
			for key, value := range labels {
				sets[code][key] = value
			}
		}
	}

	if lang == "" {
		lang = DefaultLanguage
	}
	labels := map[string]string{}
	for key, value := range sets[DefaultLanguage] {
		labels[key] = value
	}
	for key, value := range sets[lang] {
		labels[key] = value
	}
	return &Catalog{lang: lang, labels: labels}, nil
}

// MustDefault returns the embedded English catalog.
func MustDefault() *Catalog {
	catalog, err := Load(DefaultLanguage, "")
	if err != nil {
		panic(err)
	}
	return catalog
}

// Label returns the string for key, or [[key]] when it is unknown.
func (c *Catalog) Label(key string) string {
	if c != nil {
		if value, ok := c.labels[key]; ok {
			return value
		}
	}
	return "[[" + key + "]]"
}

// Language reports the catalog language.
func (c *Catalog) Language() string {
	return c.lang
}

func parse(raw []byte) (map[string]map[string]string, error) {
	sets := map[string]map[string]string{}
	if err := yaml.Unmarshal(raw, &sets); err != nil {
		return nil, err
	}
	for code, labels := range sets {
		normalized := strings.ToLower(strings.TrimSpace(code))
		if normalized != code {
			delete(sets, code)
			sets[normalized] = labels
		}
	}
	return sets, nil
}
