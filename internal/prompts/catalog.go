// Package prompts holds the prompt catalog: versioned templates resolved by
// ID, with variable substitution and optional YAML overrides. Stages pass
// variable values, never concatenated strings.
package prompts

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Model roles resolved against a ModelSet at load time. Overrides may name
// a role or a concrete model ID.
const (
	RoleHaiku  = "haiku"
	RoleSonnet = "sonnet"
	RoleVision = "vision"
)

// ModelSet maps model roles to concrete model IDs.
type ModelSet struct {
	Haiku  string
	Sonnet string
	Vision string
}

// Definition is the stored template form of a prompt.
type Definition struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
}

// Prompt is a fully-substituted prompt ready for the LLM client.
type Prompt struct {
	ID          string
	Model       string
	Temperature float64
	MaxTokens   int
	System      string
	User        string
}

// Catalog resolves prompt IDs to substituted prompts.
type Catalog struct {
	models ModelSet
	defs   map[string]Definition
}

// NewCatalog builds a catalog with the built-in prompt set.
func NewCatalog(models ModelSet) *Catalog {
	defs := make(map[string]Definition, len(builtins))
	for id, def := range builtins {
		defs[id] = def
	}
	return &Catalog{models: models, defs: defs}
}

// LoadOverrides merges prompt definitions from a YAML file. An override
// replaces the built-in definition for the same ID wholesale; new IDs are
// added.
func (c *Catalog) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "prompts: read overrides %s", path)
	}

	var wrapper struct {
		Prompts map[string]Definition `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return eris.Wrap(err, "prompts: parse overrides")
	}

	for id, def := range wrapper.Prompts {
		c.defs[id] = def
	}
	return nil
}

// IDs returns the known prompt IDs.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.defs))
	for id := range c.defs {
		ids = append(ids, id)
	}
	return ids
}

// Load resolves a prompt ID, substitutes {{name}} variables in the system
// and user templates, and resolves the model role. Unresolved placeholders
// are an error: a stage that forgot a variable must not reach the LLM.
func (c *Catalog) Load(id string, vars map[string]string) (*Prompt, error) {
	def, ok := c.defs[id]
	if !ok {
		return nil, eris.Errorf("prompts: unknown prompt %q", id)
	}

	system, err := substitute(id, def.System, vars)
	if err != nil {
		return nil, err
	}
	user, err := substitute(id, def.User, vars)
	if err != nil {
		return nil, err
	}

	return &Prompt{
		ID:          id,
		Model:       c.resolveModel(def.Model),
		Temperature: def.Temperature,
		MaxTokens:   def.MaxTokens,
		System:      system,
		User:        user,
	}, nil
}

func (c *Catalog) resolveModel(role string) string {
	switch role {
	case RoleHaiku:
		return c.models.Haiku
	case RoleSonnet:
		return c.models.Sonnet
	case RoleVision:
		return c.models.Vision
	default:
		// Concrete model ID from an override.
		return role
	}
}

func substitute(id, template string, vars map[string]string) (string, error) {
	out := template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	if i := strings.Index(out, "{{"); i >= 0 {
		end := strings.Index(out[i:], "}}")
		if end < 0 {
			end = len(out) - i
		} else {
			end += 2
		}
		return "", eris.Errorf("prompts: %s: unresolved variable %s", id, out[i:i+end])
	}
	return out, nil
}
