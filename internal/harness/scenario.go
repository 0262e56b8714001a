package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end conformance case: a schema, an optional
// seeded graph, and a sequence of update documents applied against a
// fresh database. The final graph is compared against a golden file.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// Schema is the path to the CUE schema, relative to the scenario file.
	Schema string `yaml:"schema"`

	// RootType, when set, constrains what the documents' roots may be.
	RootType string `yaml:"root_type,omitempty"`

	// Seed lists entities inserted before the first step, in order.
	// Entities referenced by a foreign key must be listed before the
	// entity pointing at them.
	Seed []SeedEntity `yaml:"seed,omitempty"`

	// Steps are the update documents, applied in order. Each step is one
	// batch: it either commits entirely or leaves the graph untouched.
	Steps []Step `yaml:"steps"`
}

// SeedEntity is one pre-existing record in the scenario's graph.
type SeedEntity struct {
	Type string `yaml:"type"`
	ID   string `yaml:"id"`

	// Version defaults to 1.
	Version int64 `yaml:"version,omitempty"`

	Attrs map[string]any `yaml:"attrs,omitempty"`

	// Owners maps an owning singular association to the target's id.
	Owners map[string]string `yaml:"owners,omitempty"`

	// Links maps an owning collection association to target ids in order.
	Links map[string][]string `yaml:"links,omitempty"`
}

// Step is one update document plus its expected outcome.
type Step struct {
	// Roots holds the document's root nodes in wire shape.
	Roots []any `yaml:"roots"`

	// References holds the document's named shared nodes.
	References map[string]any `yaml:"references,omitempty"`

	// ExpectError names the error code this step must fail with. Empty
	// means the step must commit.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the scenario file. Unknown YAML fields are
// rejected so typos fail loudly instead of silently weakening a case.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); err != nil {
		return fmt.Errorf("schema file %s: %w", s.Schema, err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, seed := range s.Seed {
		if seed.Type == "" || seed.ID == "" {
			return fmt.Errorf("seed[%d]: type and id are required", i)
		}
	}
	for i, step := range s.Steps {
		if len(step.Roots) == 0 && len(step.References) == 0 {
			return fmt.Errorf("steps[%d]: document must carry roots or references", i)
		}
	}
	return nil
}
