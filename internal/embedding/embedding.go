package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = "text-embedding-3-small"

// Provider vectorizes text for embedding-similarity scoring. The metric
// engine never calls this; the runner does, so scoring stays pure.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects the embedding endpoint and model.
type Config struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type openaiEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds an embedder against an OpenAI-compatible embeddings API.
func NewOpenAI(cfg Config) (Provider, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	} else {
		for _, name := range []string{"STRUCTBENCH_OPENAI_API_KEY", "OPENAI_API_KEY"} {
			if v := os.Getenv(name); v != "" {
				apiKey = v
				break
			}
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("embedding provider: no API key configured")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &openaiEmbedder{client: openai.NewClientWithConfig(clientCfg), model: model}, nil
}

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}
	return resp.Data[0].Embedding, nil
}
