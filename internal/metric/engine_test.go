package metric_test

import (
	"testing"
	"time"

	"github.com/structbench/structbench/internal/backend"
	"github.com/structbench/structbench/internal/metric"
	"github.com/structbench/structbench/internal/pricing"
	"github.com/structbench/structbench/internal/result"
	"github.com/structbench/structbench/internal/task"
)

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func record(output string) *backend.GenerationRecord {
	start := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	return &backend.GenerationRecord{
		Backend:          "b1",
		Library:          "openai",
		Model:            "gpt-4o-mini",
		Task:             "t1",
		Output:           output,
		RequestStart:     start,
		FirstToken:       start.Add(120 * time.Millisecond),
		Completed:        start.Add(900 * time.Millisecond),
		PromptTokens:     100,
		CompletionTokens: 50,
	}
}

func TestScoreExactMatch(t *testing.T) {
	engine := &metric.Engine{}
	def := &task.Definition{Name: "t1", Prompt: "p", Scoring: task.ScoreExact, Expected: "42"}

	row := engine.Score(record("42"), def, nil)
	if row.Correctness != 1.0 {
		t.Errorf("correctness: got %f, want 1.0", row.Correctness)
	}
	if row.Status != result.StatusScored {
		t.Errorf("status: got %q, want scored", row.Status)
	}

	row = engine.Score(record("41"), def, nil)
	if row.Correctness != 0 {
		t.Errorf("mismatch correctness: got %f, want 0", row.Correctness)
	}
}

func TestScoreExactMatchNormalizesWhitespace(t *testing.T) {
	engine := &metric.Engine{}
	def := &task.Definition{Name: "t1", Prompt: "p", Scoring: task.ScoreExact, Expected: "hello world"}
	row := engine.Score(record("  hello\n  world "), def, nil)
	if row.Correctness != 1.0 {
		t.Errorf("correctness: got %f, want 1.0", row.Correctness)
	}
}

func TestScoreEditDistance(t *testing.T) {
	engine := &metric.Engine{}
	def := &task.Definition{Name: "t1", Prompt: "p", Scoring: task.ScoreEditDistance, Expected: "cat"}
	row := engine.Score(record("cot"), def, nil)
	want := 1.0 - 1.0/3.0
	if abs(row.Correctness-want) > 1e-9 {
		t.Errorf("correctness: got %f, want %f", row.Correctness, want)
	}
}

func TestScoreEmbeddingSimilarity(t *testing.T) {
	engine := &metric.Engine{}
	def := &task.Definition{Name: "t1", Prompt: "p", Scoring: task.ScoreEmbedding, Expected: "ref"}

	vec := &metric.Vectors{Reference: []float32{1, 0}, Output: []float32{1, 0}}
	row := engine.Score(record("same direction"), def, vec)
	if abs(row.Correctness-1.0) > 1e-9 {
		t.Errorf("identical vectors: got %f, want 1.0", row.Correctness)
	}

	// Opposite vectors: cosine -1 clamps to 0.
	vec = &metric.Vectors{Reference: []float32{1, 0}, Output: []float32{-1, 0}}
	row = engine.Score(record("opposite"), def, vec)
	if row.Correctness != 0 {
		t.Errorf("opposite vectors: got %f, want 0", row.Correctness)
	}
}

func TestScoreRegex(t *testing.T) {
	engine := &metric.Engine{}
	def := &task.Definition{Name: "t1", Prompt: "p", Scoring: task.ScoreRegex, Expected: `^\d+$`}
	if row := engine.Score(record("12345"), def, nil); row.Correctness != 1.0 {
		t.Errorf("matching output: got %f, want 1.0", row.Correctness)
	}
	if row := engine.Score(record("twelve"), def, nil); row.Correctness != 0 {
		t.Errorf("non-matching output: got %f, want 0", row.Correctness)
	}
}

func TestScoreSchemaViolation(t *testing.T) {
	engine := &metric.Engine{}
	def := &task.Definition{
		Name:          "t1",
		Prompt:        "p",
		Scoring:       task.ScoreExact,
		Expected:      `{"name":"Ada"}`,
		PassThreshold: 0.5,
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"name", "age"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
				"age":  map[string]any{"type": "integer"},
			},
		},
	}

	row := engine.Score(record(`{"name":"Ada"}`), def, nil)
	if !row.SchemaViolation {
		t.Errorf("expected schema_violation for missing required field")
	}
	if row.Correctness != 0 {
		t.Errorf("violating output correctness: got %f, want 0", row.Correctness)
	}
	if row.Status != result.StatusScored {
		t.Errorf("schema violation must stay a scoring outcome, got status %q", row.Status)
	}
	if row.Passed == nil || *row.Passed {
		t.Errorf("schema violation must fail the threshold")
	}

	row = engine.Score(record(`not json at all`), def, nil)
	if !row.SchemaViolation {
		t.Errorf("expected schema_violation for unparseable output")
	}

	row = engine.Score(record(`{"name":"Ada","age":36.5}`), def, nil)
	if !row.SchemaViolation {
		t.Errorf("expected schema_violation for non-integer age")
	}
}

func TestScoreLatencyAndCost(t *testing.T) {
	rates := &pricing.Table{Libraries: map[string]map[string]pricing.ModelRates{
		"openai": {"gpt-4o-mini": {Input: 0.00015, Output: 0.0006}},
	}}
	engine := &metric.Engine{Rates: rates}
	def := &task.Definition{Name: "t1", Prompt: "p", Scoring: task.ScoreExact, Expected: "42"}

	row := engine.Score(record("42"), def, nil)
	if row.TTFTMs != 120 {
		t.Errorf("ttft: got %d, want 120", row.TTFTMs)
	}
	if row.TotalMs != 900 {
		t.Errorf("total: got %d, want 900", row.TotalMs)
	}
	wantCost := 100.0/1000.0*0.00015 + 50.0/1000.0*0.0006
	if abs(row.CostUSD-wantCost) > 1e-12 {
		t.Errorf("cost: got %g, want %g", row.CostUSD, wantCost)
	}
}

func TestScoreDeterminism(t *testing.T) {
	engine := &metric.Engine{}
	def := &task.Definition{Name: "t1", Prompt: "p", Scoring: task.ScoreEditDistance, Expected: "reference answer", PassThreshold: 0.8}
	rec := record("reference answr")
	first := engine.Score(rec, def, nil)
	for i := 0; i < 10; i++ {
		again := engine.Score(rec, def, nil)
		if again.Correctness != first.Correctness || again.TTFTMs != first.TTFTMs ||
			again.CostUSD != first.CostUSD || *again.Passed != *first.Passed {
			t.Fatalf("score not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	engine := &metric.Engine{}
	defs := []*task.Definition{
		{Name: "a", Prompt: "p", Scoring: task.ScoreExact, Expected: "x"},
		{Name: "b", Prompt: "p", Scoring: task.ScoreEditDistance, Expected: "abc"},
		{Name: "c", Prompt: "p", Scoring: task.ScoreRegex, Expected: "x+"},
	}
	outputs := []string{"", "x", "completely different and much longer output", "xxxx"}
	for _, def := range defs {
		for _, out := range outputs {
			row := engine.Score(record(out), def, nil)
			if row.Correctness < 0 || row.Correctness > 1 {
				t.Errorf("%s/%q: correctness %f out of [0,1]", def.Name, out, row.Correctness)
			}
		}
	}
}

func TestScorePassThreshold(t *testing.T) {
	engine := &metric.Engine{}
	def := &task.Definition{Name: "t1", Prompt: "p", Scoring: task.ScoreEditDistance, Expected: "cat", PassThreshold: 0.5}

	row := engine.Score(record("cot"), def, nil)
	if row.Passed == nil || !*row.Passed {
		t.Errorf("0.667 should pass a 0.5 threshold")
	}

	row = engine.Score(record("dog"), def, nil)
	if row.Passed == nil || *row.Passed {
		t.Errorf("0.0 should fail a 0.5 threshold")
	}

	def2 := &task.Definition{Name: "t2", Prompt: "p", Scoring: task.ScoreExact, Expected: "x"}
	if row := engine.Score(record("x"), def2, nil); row.Passed != nil {
		t.Errorf("no threshold: Passed should be nil")
	}
}
