// Package locators holds the data-driven selector catalog. UI drift is fixed by editing
// YAML, not code.
package locators

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/vetter/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Catalog maps UI action names to ordered locator candidates
type Catalog struct {
	actions map[string][]models.Locator
}

// Default returns the embedded catalog
func Default() *Catalog {
	catalog, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded locator catalog is invalid: %v", err))
	}
	return catalog
}

// Load returns the embedded catalog with actions from path replacing their defaults.
// An empty path returns the defaults.
func Load(path string) (*Catalog, error) {
	catalog := Default()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locator file %s: %w", path, err)
	}
	overrides, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse locator file %s: %w", path, err)
	}
	for action, candidates := range overrides.actions {
		catalog.actions[action] = candidates
	}
	return catalog, nil
}

// Parse decodes a YAML catalog. Each candidate is either a CSS string or a {by, query} map.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string][]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	validate := validator.New()
	catalog := &Catalog{actions: make(map[string][]models.Locator, len(raw))}
	for action, nodes := range raw {
		candidates := make([]models.Locator, 0, len(nodes))
		for i, node := range nodes {
			var loc models.Locator
			switch node.Kind {
			case yaml.ScalarNode:
				loc = models.CSS(node.Value)
			case yaml.MappingNode:
				if err := node.Decode(&loc); err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", action, i, err)
				}
				if loc.By == "" {
					loc.By = models.ByCSS
				}
			default:
				return nil, fmt.Errorf("%s[%d]: expected string or mapping", action, i)
			}
			if err := validate.Struct(loc); err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", action, i, err)
			}
			if loc.Label == "" {
				loc.Label = fmt.Sprintf("%s#%d", action, i+1)
			}
			candidates = append(candidates, loc)
		}
		catalog.actions[action] = candidates
	}
	return catalog, nil
}

// Candidates returns the ordered locators for action, nil when unknown
func (c *Catalog) Candidates(action string) []models.Locator {
	return append([]models.Locator(nil), c.actions[action]...)
}

// First returns the primary locator for action
func (c *Catalog) First(action string) (models.Locator, bool) {
	candidates := c.actions[action]
	if len(candidates) == 0 {
		return models.Locator{}, false
	}
	return candidates[0], true
}

// Expand returns the candidates for action with {name} placeholders replaced from vars
func (c *Catalog) Expand(action string, vars map[string]string) []models.Locator {
	candidates := c.Candidates(action)
	for i := range candidates {
		for name, value := range vars {
			candidates[i].Query = strings.ReplaceAll(candidates[i].Query, "{"+name+"}", value)
		}
	}
	return candidates
}

// Require fails when any of the named actions has no candidates
func (c *Catalog) Require(actions ...string) error {
	var missing []string
	for _, action := range actions {
		if len(c.actions[action]) == 0 {
			missing = append(missing, action)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("locator catalog is missing actions: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Actions lists the known action names, sorted
func (c *Catalog) Actions() []string {
	names := make([]string, 0, len(c.actions))
	for name := range c.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
