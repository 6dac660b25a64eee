package device

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// AppEntry maps one human-readable app name to its per-platform
// identifiers.
type AppEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Android string   `yaml:"android"`
	Harmony string   `yaml:"harmony"`
	IOS     string   `yaml:"ios"`
}

// Catalog resolves the app names a model uses into launchable package,
// bundle, or ability identifiers. Lookup is case-insensitive over names
// and aliases.
type Catalog struct {
	byName map[string]*AppEntry
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog builds a catalog from YAML bytes.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file struct {
		Apps []*AppEntry `yaml:"apps"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid app catalog: %w", err)
	}

	c := &Catalog{byName: make(map[string]*AppEntry)}
	for _, entry := range file.Apps {
		if entry.Name == "" {
			continue
		}
		c.byName[strings.ToLower(entry.Name)] = entry
		for _, alias := range entry.Aliases {
			c.byName[strings.ToLower(alias)] = entry
		}
	}
	return c, nil
}

// EmptyCatalog returns a catalog with no entries. Resolve then passes
// names through unchanged, which suits models that already emit raw
// package identifiers.
func EmptyCatalog() *Catalog {
	return &Catalog{byName: make(map[string]*AppEntry)}
}

// Resolve maps an app name to the identifier for the device kind.
// Unknown names pass through unchanged so raw identifiers keep working.
func (c *Catalog) Resolve(name string, kind Kind) string {
	entry, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return name
	}

	var id string
	switch kind {
	case KindADB:
		id = entry.Android
	case KindHDC:
		id = entry.Harmony
	case KindXCTest:
		id = entry.IOS
	}
	if id == "" {
		return name
	}
	return id
}

// Len reports the number of distinct catalog entries.
func (c *Catalog) Len() int {
	seen := make(map[*AppEntry]struct{})
	for _, entry := range c.byName {
		seen[entry] = struct{}{}
	}
	return len(seen)
}
