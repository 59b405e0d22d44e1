package task

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ScoringMethod selects how a backend's output is compared against the
// reference answer.
type ScoringMethod string

const (
	ScoreExact        ScoringMethod = "exact"
	ScoreEditDistance ScoringMethod = "edit_distance"
	ScoreEmbedding    ScoringMethod = "embedding_similarity"
	ScoreRegex        ScoringMethod = "regex"
)

// Definition is one immutable unit of evaluation. The same definition is
// evaluated by every configured backend.
type Definition struct {
	Name    string        `yaml:"name"`
	Version string        `yaml:"version"`
	Prompt  string        `yaml:"prompt"`
	System  string        `yaml:"system"`
	Scoring ScoringMethod `yaml:"scoring"`

	// Expected holds the reference answer for exact/edit-distance/embedding
	// scoring, or the pattern for regex scoring.
	Expected string `yaml:"expected"`

	// Schema optionally constrains the output to a JSON shape. When set,
	// adapters pass it to the backend as a decoding constraint and the
	// metric engine validates the output against it.
	Schema map[string]any `yaml:"schema"`

	// PassThreshold marks the unit passed when correctness >= threshold.
	// Zero disables the pass/fail flag.
	PassThreshold float64 `yaml:"pass_threshold"`
}

// ID returns the stable task identifier recorded on results.
func (d *Definition) ID() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + "@" + d.Version
}

type manifest struct {
	Tasks []Definition `yaml:"tasks"`
}

// LoadManifest reads a task manifest file and validates every definition.
func LoadManifest(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if len(m.Tasks) == 0 {
		return nil, fmt.Errorf("manifest %s: no tasks defined", path)
	}
	seen := make(map[string]bool, len(m.Tasks))
	for i := range m.Tasks {
		t := &m.Tasks[i]
		if err := validate(t); err != nil {
			return nil, fmt.Errorf("manifest %s: task %d: %w", path, i, err)
		}
		if seen[t.ID()] {
			return nil, fmt.Errorf("manifest %s: duplicate task %q", path, t.ID())
		}
		seen[t.ID()] = true
	}
	return m.Tasks, nil
}

func validate(t *Definition) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	switch t.Scoring {
	case "":
		t.Scoring = ScoreExact
	case ScoreExact, ScoreEditDistance, ScoreEmbedding, ScoreRegex:
	default:
		return fmt.Errorf("unknown scoring method %q", t.Scoring)
	}
	if t.Expected == "" {
		return fmt.Errorf("expected is required for %s scoring", t.Scoring)
	}
	if t.Scoring == ScoreRegex {
		if _, err := regexp.Compile(t.Expected); err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
	}
	if t.PassThreshold < 0 || t.PassThreshold > 1 {
		return fmt.Errorf("pass_threshold must be within [0,1]")
	}
	return nil
}
