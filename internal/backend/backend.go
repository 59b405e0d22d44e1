package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/structbench/structbench/internal/task"
)

// Config describes one backend under comparison: a generation library plus a
// model and decoding parameters. Immutable after load.
type Config struct {
	// Name is the key results are recorded under, e.g. "openai-json-schema".
	Name string `yaml:"name"`
	// Library selects the adapter: "openai" or "ollama".
	Library string `yaml:"library"`
	Model   string `yaml:"model"`
	// BaseURL overrides the library's default endpoint.
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key. Empty
	// falls back to the library's conventional variables.
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// GenerationRecord captures one backend call. Created once per execution and
// never mutated afterwards.
type GenerationRecord struct {
	Backend string
	Library string
	Model   string
	Task    string

	Output string

	RequestStart time.Time
	FirstToken   time.Time
	Completed    time.Time

	PromptTokens     int
	CompletionTokens int
}

// TTFT returns the time to first token.
func (r *GenerationRecord) TTFT() time.Duration {
	return r.FirstToken.Sub(r.RequestStart)
}

// Total returns the full request duration.
func (r *GenerationRecord) Total() time.Duration {
	return r.Completed.Sub(r.RequestStart)
}

// Generator is the uniform capability every adapter implements. Callers bound
// the call with the context; cancellation aborts the in-flight request.
type Generator interface {
	Generate(ctx context.Context, def *task.Definition) (*GenerationRecord, error)
}

func (c *Config) validateForGenerate() error {
	if c.Model == "" {
		return fmt.Errorf("backend %q: model is required", c.Name)
	}
	return nil
}
