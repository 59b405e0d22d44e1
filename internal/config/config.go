package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/structbench/structbench/internal/backend"
	"github.com/structbench/structbench/internal/embedding"
)

type Config struct {
	Backends  []backend.Config `yaml:"backends"`
	Manifest  string           `yaml:"manifest"`
	Run       Run              `yaml:"run"`
	Pricing   string           `yaml:"pricing"`
	Results   Results          `yaml:"results"`
	Embedding embedding.Config `yaml:"embedding"`
}

type Run struct {
	Trials         int `yaml:"trials"`
	Concurrency    int `yaml:"concurrency"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxAttempts    int `yaml:"max_attempts"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

// Timeout returns the per-unit deadline.
func (r *Run) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Backends) == 0 {
		return fmt.Errorf("no backends defined")
	}
	seen := map[string]bool{}
	for i, b := range cfg.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend %d: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("backend %q: duplicate name", b.Name)
		}
		seen[b.Name] = true
		if b.Library == "" {
			return fmt.Errorf("backend %q: library is required", b.Name)
		}
		if b.Model == "" {
			return fmt.Errorf("backend %q: model is required", b.Name)
		}
		if b.Temperature < 0 {
			return fmt.Errorf("backend %q: temperature must not be negative", b.Name)
		}
	}
	if cfg.Manifest == "" {
		return fmt.Errorf("manifest is required")
	}
	if cfg.Run.Trials < 1 {
		cfg.Run.Trials = 1
	}
	if cfg.Run.Concurrency < 1 {
		cfg.Run.Concurrency = 1
	}
	if cfg.Run.TimeoutSeconds < 1 {
		cfg.Run.TimeoutSeconds = 60
	}
	if cfg.Run.MaxAttempts < 1 {
		cfg.Run.MaxAttempts = 3
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}
