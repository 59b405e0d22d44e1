package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ModelRates struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table holds per-1K-token rates keyed by backend library, then model.
// It is injected into the metric engine so tests can supply fixed rates.
type Table struct {
	Libraries map[string]map[string]ModelRates
}

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var libraries map[string]map[string]ModelRates
	if err := yaml.Unmarshal(data, &libraries); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	return &Table{Libraries: libraries}, nil
}

// Cost estimates the cost of one generation. Rates are per 1K tokens;
// unknown libraries and models cost zero.
func (t *Table) Cost(library, model string, promptTokens, completionTokens int) float64 {
	if t == nil || t.Libraries == nil {
		return 0
	}
	models, ok := t.Libraries[library]
	if !ok {
		return 0
	}
	r, ok := models[model]
	if !ok {
		return 0
	}
	return (float64(promptTokens)/1000.0)*r.Input + (float64(completionTokens)/1000.0)*r.Output
}
