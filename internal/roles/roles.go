// Package roles maps a requested job role to a search profile: keywords
// that seed discovery queries, value propositions and proof points that
// feed outreach prompts, and related roles that widen the search. Profiles
// ship embedded; a YAML file can override them at startup.
package roles

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var defaultRolesYAML []byte

// maxRelated bounds how many related roles join the fan-out.
const maxRelated = 2

// Profile describes one role.
type Profile struct {
	Keywords   []string `yaml:"keywords"`
	ValueProps []string `yaml:"value_props"`
	Hooks      []string `yaml:"hooks"`
	Proofs     []string `yaml:"proofs"`
	Related    []string `yaml:"related"`
}

// Catalog holds the loaded role profiles. Lookups are case-insensitive.
type Catalog struct {
	profiles map[string]Profile
}

// Load reads profiles from path, or from the embedded defaults when path
// is empty.
func Load(path string) (*Catalog, error) {
	data := defaultRolesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("roles: read %s: %w", path, err)
		}
		data = b
	}

	var raw map[string]Profile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("roles: parse profiles: %w", err)
	}

	profiles := make(map[string]Profile, len(raw))
	for name, p := range raw {
		profiles[normalize(name)] = p
	}
	return &Catalog{profiles: profiles}, nil
}

// Lookup returns the profile for a role. Unknown roles get a generic
// profile whose keywords are the words of the role itself, so discovery
// still has something to search with.
func (c *Catalog) Lookup(name string) Profile {
	if p, ok := c.profiles[normalize(name)]; ok {
		return p
	}
	return Profile{Keywords: strings.Fields(normalize(name))}
}

// Known reports whether a role has a curated profile.
func (c *Catalog) Known(name string) bool {
	_, ok := c.profiles[normalize(name)]
	return ok
}

// Expand returns the fan-out roles for a request: the normalized role
// followed by up to two related roles from its profile.
func (c *Catalog) Expand(name string) []string {
	out := []string{normalize(name)}
	related := c.Lookup(name).Related
	for _, r := range related {
		if len(out) > maxRelated {
			break
		}
		if normalize(r) == normalize(name) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Names lists all curated roles, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
