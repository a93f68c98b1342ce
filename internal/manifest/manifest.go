// Package manifest describes which routes the gateway precaches, which API
// prefixes it may serve from cache, and which endpoints periodic sync
// refreshes. The data lives in YAML so it can change without touching the
// request policy.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Manifest is the resolved route configuration.
type Manifest struct {
	Version      string   `yaml:"version"`
	OfflinePage  string   `yaml:"offline_page"`
	Essential    []string `yaml:"essential"`
	CacheableAPI []string `yaml:"cacheable_api"`
	Critical     []string `yaml:"critical"`
}

// Default returns the built-in manifest.
func Default() *Manifest {
	m, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded manifest: %v", err))
	}
	return m
}

// Load reads a manifest file. An empty path yields Default.
func Load(path string) (*Manifest, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest document.
func Parse(b []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every route is an absolute path.
func (m *Manifest) Validate() error {
	if m.OfflinePage != "" && !strings.HasPrefix(m.OfflinePage, "/") {
		return fmt.Errorf("offline_page %q must start with /", m.OfflinePage)
	}
	lists := map[string][]string{
		"essential":     m.Essential,
		"cacheable_api": m.CacheableAPI,
		"critical":      m.Critical,
	}
	for name, list := range lists {
		for _, p := range list {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("%s entry %q must start with /", name, p)
			}
		}
	}
	return nil
}

// IsCacheableAPI reports whether path falls under one of the allow-listed
// prefixes. A prefix matches itself and anything below it, but not a
// sibling sharing its spelling (/api/events does not match /api/eventsx).
func (m *Manifest) IsCacheableAPI(path string) bool {
	for _, p := range m.CacheableAPI {
		base := strings.TrimSuffix(p, "/")
		if path == base || strings.HasPrefix(path, base+"/") {
			return true
		}
	}
	return false
}
