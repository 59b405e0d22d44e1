package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/structbench/structbench/internal/task"
)

const defaultOllamaURL = "http://localhost:11434"

// Model loading can dominate the first request; give the server generous
// room before the first response byte arrives.
const ollamaHeaderTimeout = 5 * time.Minute

// ollamaAdapter drives a local Ollama server via /api/chat. Structured output
// is requested through the "format" field, which accepts a JSON schema.
type ollamaAdapter struct {
	cfg     Config
	baseURL string
	client  *http.Client
}

func newOllama(cfg Config) (Generator, error) {
	if err := cfg.validateForGenerate(); err != nil {
		return nil, err
	}
	base := firstNonEmpty(cfg.BaseURL, os.Getenv("STRUCTBENCH_OLLAMA_HOST"), os.Getenv("OLLAMA_HOST"), defaultOllamaURL)
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = ollamaHeaderTimeout
	return &ollamaAdapter{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Transport: transport},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatChunk struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

func (a *ollamaAdapter) Generate(ctx context.Context, def *task.Definition) (*GenerationRecord, error) {
	if def.Prompt == "" {
		return nil, fmt.Errorf("task %q: empty prompt", def.ID())
	}

	var messages []ollamaMessage
	if def.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: def.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: def.Prompt})

	body := ollamaChatRequest{
		Model:    a.cfg.Model,
		Messages: messages,
		Stream:   true,
		Options:  map[string]any{"temperature": a.cfg.Temperature},
	}
	if a.cfg.MaxTokens > 0 {
		body.Options["num_predict"] = a.cfg.MaxTokens
	}
	if def.Schema != nil {
		body.Format = def.Schema
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := &GenerationRecord{
		Backend:      a.cfg.Name,
		Library:      a.cfg.Library,
		Model:        a.cfg.Model,
		Task:         def.ID(),
		RequestStart: time.Now(),
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyOllamaError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &UnavailableError{Err: fmt.Errorf("ollama returned %s", resp.Status)}
		}
		return nil, fmt.Errorf("ollama returned %s", resp.Status)
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	sawDone := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Garbage chunks happen on flaky local servers; skip them
			// rather than aborting a mostly-good stream.
			continue
		}
		if chunk.Error != "" {
			return nil, &MalformedOutputError{Detail: chunk.Error}
		}
		if chunk.Message.Content != "" {
			if rec.FirstToken.IsZero() {
				rec.FirstToken = time.Now()
			}
			out.WriteString(chunk.Message.Content)
		}
		if chunk.Done {
			rec.PromptTokens = chunk.PromptEvalCount
			rec.CompletionTokens = chunk.EvalCount
			sawDone = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyOllamaError(ctx, err)
	}
	if !sawDone {
		return nil, &MalformedOutputError{Detail: "stream ended without a done marker"}
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

func classifyOllamaError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return &UnavailableError{Err: err}
	}
	return fmt.Errorf("ollama request failed: %w", err)
}
