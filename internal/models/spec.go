package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EvalSpec is a complete declarative evaluation: which providers to run,
// which prompts, and which tests to score them with.
type EvalSpec struct {
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Providers   []ProviderSpec `yaml:"providers" json:"providers"`
	Prompts     []PromptSpec   `yaml:"prompts" json:"prompts"`
	Tests       []TestCase     `yaml:"tests" json:"tests"`
	DefaultTest *TestCase      `yaml:"defaultTest,omitempty" json:"default_test,omitempty"`
}

// ProviderSpec selects a provider either by bare identifier or by a record
// carrying provider-specific options and an optional prompt override list.
type ProviderSpec struct {
	ID      string         `yaml:"id" json:"id"`
	Config  map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Prompts []string       `yaml:"prompts,omitempty" json:"prompts,omitempty"`
}

// UnmarshalYAML accepts either a scalar provider id or the structured form.
func (p *ProviderSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.ID = value.Value
		return nil
	}

	type plain ProviderSpec
	var v plain
	if err := value.Decode(&v); err != nil {
		return err
	}
	*p = ProviderSpec(v)
	return nil
}

// Kind returns the provider family portion of the identifier, e.g. "openai"
// for "openai:gpt-4o".
func (p ProviderSpec) Kind() string {
	if i := strings.IndexByte(p.ID, ':'); i >= 0 {
		return p.ID[:i]
	}
	return p.ID
}

// Model returns the model name portion of the identifier, if any.
func (p ProviderSpec) Model() string {
	if i := strings.IndexByte(p.ID, ':'); i >= 0 {
		return p.ID[i+1:]
	}
	return ""
}

// PromptSpec is either a flat template or a pipeline of steps. Exactly one of
// Template and Steps is set.
type PromptSpec struct {
	Label    string     `yaml:"label,omitempty" json:"label,omitempty"`
	Template string     `yaml:"template,omitempty" json:"template,omitempty"`
	Steps    []StepSpec `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// UnmarshalYAML accepts either a scalar template string or the structured form.
func (p *PromptSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Template = value.Value
		return nil
	}

	type plain PromptSpec
	var v plain
	if err := value.Decode(&v); err != nil {
		return err
	}
	*p = PromptSpec(v)
	return nil
}

// StepSpec is one node of a prompt pipeline graph.
type StepSpec struct {
	Name     string   `yaml:"name" json:"name"`
	Prompt   string   `yaml:"prompt" json:"prompt"`
	Deps     []string `yaml:"deps,omitempty" json:"deps,omitempty"`
	If       string   `yaml:"if,omitempty" json:"if,omitempty"`
	OutputAs string   `yaml:"output_as" json:"output_as"`
}

// TestCase is a named set of template variables plus assertion specs.
// Immutable after config load; per-run defaults are merged into a copy.
type TestCase struct {
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Vars        map[string]any  `yaml:"vars,omitempty" json:"vars,omitempty"`
	Assert      []AssertionSpec `yaml:"assert,omitempty" json:"assert,omitempty"`
}

// AssertionSpec declares one assertion: a registered type plus its arguments.
type AssertionSpec struct {
	Type string         `yaml:"type" json:"type"`
	Vars map[string]any `yaml:"vars,omitempty" json:"vars,omitempty"`
}

// MergeDefault returns tc with the default test folded in: vars shallow-merge
// with the test's own values winning, assert lists concatenate with the
// defaults first.
func MergeDefault(def *TestCase, tc TestCase) TestCase {
	if def == nil {
		return tc
	}

	merged := TestCase{Description: tc.Description}
	merged.Vars = make(map[string]any, len(def.Vars)+len(tc.Vars))
	for k, v := range def.Vars {
		merged.Vars[k] = v
	}
	for k, v := range tc.Vars {
		merged.Vars[k] = v
	}

	merged.Assert = make([]AssertionSpec, 0, len(def.Assert)+len(tc.Assert))
	merged.Assert = append(merged.Assert, def.Assert...)
	merged.Assert = append(merged.Assert, tc.Assert...)
	return merged
}

// LoadEvalSpec loads and validates a spec from a YAML file.
func LoadEvalSpec(path string) (*EvalSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var spec EvalSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return &spec, nil
}

// Validate checks that the spec is structurally usable. Configuration errors
// are fatal before any provider call.
func (s *EvalSpec) Validate() error {
	if len(s.Providers) == 0 {
		return fmt.Errorf("spec must list at least one provider")
	}
	if len(s.Prompts) == 0 {
		return fmt.Errorf("spec must list at least one prompt")
	}
	if len(s.Tests) == 0 {
		return fmt.Errorf("spec must list at least one test")
	}

	labels := make(map[string]bool, len(s.Prompts))
	for i := range s.Prompts {
		p := &s.Prompts[i]
		if p.Label == "" {
			p.Label = fmt.Sprintf("prompt-%d", i+1)
		}
		if labels[p.Label] {
			return fmt.Errorf("duplicate prompt label %q", p.Label)
		}
		labels[p.Label] = true

		if (p.Template == "") == (len(p.Steps) == 0) {
			return fmt.Errorf("prompt %q must set exactly one of template or steps", p.Label)
		}
		for _, st := range p.Steps {
			if st.Name == "" || st.Prompt == "" || st.OutputAs == "" {
				return fmt.Errorf("prompt %q: every step needs name, prompt and output_as", p.Label)
			}
		}
	}

	for _, pv := range s.Providers {
		if pv.ID == "" {
			return fmt.Errorf("provider entries must carry an id")
		}
		for _, label := range pv.Prompts {
			if !labels[label] {
				return fmt.Errorf("provider %q references unknown prompt %q", pv.ID, label)
			}
		}
	}

	for i, tc := range s.Tests {
		for _, a := range tc.Assert {
			if a.Type == "" {
				return fmt.Errorf("test %d: assertion entries must carry a type", i+1)
			}
		}
	}

	return nil
}
