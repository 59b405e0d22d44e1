package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/structbench/structbench/internal/task"
)

// openaiAdapter drives any OpenAI-compatible chat completions endpoint.
// Structured output is requested through the json_schema response format;
// TTFT is observed by streaming.
type openaiAdapter struct {
	cfg    Config
	client *openai.Client
}

func newOpenAI(cfg Config) (Generator, error) {
	if err := cfg.validateForGenerate(); err != nil {
		return nil, err
	}
	apiKey := resolveEnv(cfg.APIKeyEnv, "STRUCTBENCH_OPENAI_API_KEY", "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("backend %q: no API key (set %s)", cfg.Name, keyHint(cfg.APIKeyEnv, "OPENAI_API_KEY"))
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if base := firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL")); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	return &openaiAdapter{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}, nil
}

func (a *openaiAdapter) Generate(ctx context.Context, def *task.Definition) (*GenerationRecord, error) {
	if def.Prompt == "" {
		return nil, fmt.Errorf("task %q: empty prompt", def.ID())
	}

	var messages []openai.ChatCompletionMessage
	if def.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: def.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: def.Prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:         a.cfg.Model,
		Messages:      messages,
		Temperature:   a.cfg.Temperature,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if a.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = a.cfg.MaxTokens
	}
	if def.Schema != nil {
		raw, err := json.Marshal(def.Schema)
		if err != nil {
			return nil, fmt.Errorf("task %q: encoding schema: %w", def.ID(), err)
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "task_output",
				Schema: json.RawMessage(raw),
				Strict: true,
			},
		}
	}

	rec := &GenerationRecord{
		Backend:      a.cfg.Name,
		Library:      a.cfg.Library,
		Model:        a.cfg.Model,
		Task:         def.ID(),
		RequestStart: time.Now(),
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(ctx, err)
	}
	defer stream.Close()

	var out strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classifyOpenAIError(ctx, err)
		}
		if resp.Usage != nil {
			rec.PromptTokens = resp.Usage.PromptTokens
			rec.CompletionTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if rec.FirstToken.IsZero() {
			rec.FirstToken = time.Now()
		}
		out.WriteString(delta)
	}
	rec.Completed = time.Now()
	if rec.FirstToken.IsZero() {
		rec.FirstToken = rec.Completed
	}
	rec.Output = out.String()
	if rec.Output == "" {
		return nil, &MalformedOutputError{Detail: "stream ended with no content"}
	}
	return rec, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403, 408, 429, 500, 502, 503, 504:
			return &UnavailableError{Err: err}
		}
		return fmt.Errorf("openai request failed: %w", err)
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return &UnavailableError{Err: err}
	}
	return fmt.Errorf("openai request failed: %w", err)
}

// resolveEnv returns the first non-empty value among the explicit variable
// and the fallback chain, mirroring how the backends themselves resolve keys.
func resolveEnv(explicit string, fallbacks ...string) string {
	if explicit != "" {
		return os.Getenv(explicit)
	}
	for _, name := range fallbacks {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func keyHint(explicit, conventional string) string {
	if explicit != "" {
		return explicit
	}
	return conventional
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
