package report_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/structbench/structbench/internal/report"
	"github.com/structbench/structbench/internal/result"
)

func seedRun(t *testing.T) string {
	t.Helper()
	store, err := result.Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	passed, failed := true, false
	rows := []result.ScoredResult{
		{Index: 0, Task: "a", Backend: "openai-schema", Library: "openai", Model: "gpt-4o-mini",
			Status: result.StatusScored, Correctness: 1.0, Passed: &passed,
			TTFTMs: 100, TotalMs: 400, PromptTokens: 1000, CompletionTokens: 500, CostUSD: 0.01},
		{Index: 1, Task: "b", Backend: "openai-schema", Library: "openai", Model: "gpt-4o-mini",
			Status: result.StatusScored, Correctness: 0.5, Passed: &failed,
			TTFTMs: 300, TotalMs: 800, PromptTokens: 1000, CompletionTokens: 500, CostUSD: 0.01},
		{Index: 2, Task: "a", Backend: "ollama-local", Library: "ollama", Model: "llama3",
			Status: result.StatusTimedOut},
		{Index: 3, Task: "b", Backend: "ollama-local", Library: "ollama", Model: "llama3",
			Status: result.StatusFailed, ErrorKind: "backend_unavailable"},
	}
	for i := range rows {
		if err := store.Append(&rows[i]); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return store.Dir()
}

func TestGenerateJSON(t *testing.T) {
	dir := seedRun(t)
	var buf bytes.Buffer
	if err := report.Generate(dir, "json", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var summaries []report.BackendSummary
	if err := json.Unmarshal(buf.Bytes(), &summaries); err != nil {
		t.Fatalf("parsing report: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(summaries))
	}
	// Sorted by name.
	ollama, openai := summaries[0], summaries[1]
	if ollama.Name != "ollama-local" || openai.Name != "openai-schema" {
		t.Fatalf("order: %s, %s", ollama.Name, openai.Name)
	}
	if openai.MeanCorrectness != 0.75 {
		t.Errorf("mean correctness: got %f, want 0.75", openai.MeanCorrectness)
	}
	if openai.PassRate != 0.5 {
		t.Errorf("pass rate: got %f, want 0.5", openai.PassRate)
	}
	if openai.MeanTTFTMs != 200 {
		t.Errorf("mean ttft: got %f, want 200", openai.MeanTTFTMs)
	}
	if ollama.TimedOut != 1 || ollama.Failed != 1 || ollama.Scored != 0 {
		t.Errorf("ollama counts: %+v", ollama)
	}
}

func TestGenerateTable(t *testing.T) {
	dir := seedRun(t)
	var buf bytes.Buffer
	if err := report.Generate(dir, "table", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"BACKEND", "openai-schema", "ollama-local", "finalized"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestGenerateMarkdown(t *testing.T) {
	dir := seedRun(t)
	var buf bytes.Buffer
	if err := report.Generate(dir, "markdown", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "| Backend |") {
		t.Errorf("markdown output malformed:\n%s", buf.String())
	}
}

func TestGenerateRepricesFromTable(t *testing.T) {
	dir := seedRun(t)
	pricingPath := filepath.Join(dir, "pricing.yaml")
	content := "openai:\n  gpt-4o-mini:\n    input: 1.0\n    output: 2.0\n"
	if err := os.WriteFile(pricingPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing pricing: %v", err)
	}

	var buf bytes.Buffer
	if err := report.Generate(dir, "json", &buf, pricingPath); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var summaries []report.BackendSummary
	json.Unmarshal(buf.Bytes(), &summaries)
	// 2 rows × (1000/1000×1.0 + 500/1000×2.0) = 4.0
	openai := summaries[1]
	if openai.TotalCostUSD != 4.0 {
		t.Errorf("repriced cost: got %f, want 4.0", openai.TotalCostUSD)
	}
}
