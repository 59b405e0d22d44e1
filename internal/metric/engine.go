package metric

import (
	"math"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/structbench/structbench/internal/backend"
	"github.com/structbench/structbench/internal/pricing"
	"github.com/structbench/structbench/internal/result"
	"github.com/structbench/structbench/internal/task"
)

// Vectors carries precomputed embeddings for embedding-similarity scoring.
// The engine never calls an embedding model itself; the runner injects these.
type Vectors struct {
	Reference []float32
	Output    []float32
}

// Engine scores generation records. It is pure: no I/O, no clock reads, and
// identical inputs always produce identical results. Rates may be nil, in
// which case every generation costs zero.
type Engine struct {
	Rates *pricing.Table
}

// Score computes correctness, latency, and cost for one record. Schema
// violations are a scoring outcome (correctness 0, flag set), not an error.
func (e *Engine) Score(rec *backend.GenerationRecord, def *task.Definition, vec *Vectors) *result.ScoredResult {
	row := &result.ScoredResult{
		Task:             rec.Task,
		Backend:          rec.Backend,
		Library:          rec.Library,
		Model:            rec.Model,
		Status:           result.StatusScored,
		TTFTMs:           rec.TTFT().Milliseconds(),
		TotalMs:          rec.Total().Milliseconds(),
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		CostUSD:          e.Rates.Cost(rec.Library, rec.Model, rec.PromptTokens, rec.CompletionTokens),
		Output:           rec.Output,
	}

	if def.Schema != nil {
		if err := validateJSON(rec.Output, def.Schema); err != nil {
			row.SchemaViolation = true
			row.Correctness = 0
			if def.PassThreshold > 0 {
				failed := false
				row.Passed = &failed
			}
			return row
		}
	}

	row.Correctness = clamp01(correctness(rec.Output, def, vec))
	if def.PassThreshold > 0 {
		passed := row.Correctness >= def.PassThreshold
		row.Passed = &passed
	}
	return row
}

// correctness may fall outside [0,1] only for embedding similarity; the
// caller clamps. The other methods are bounded by construction.
func correctness(output string, def *task.Definition, vec *Vectors) float64 {
	switch def.Scoring {
	case task.ScoreEmbedding:
		if vec == nil {
			return 0
		}
		return cosine(vec.Reference, vec.Output)
	case task.ScoreExact:
		if normalize(output) == normalize(def.Expected) {
			return 1
		}
		return 0
	case task.ScoreEditDistance:
		return editSimilarity(def.Expected, output)
	case task.ScoreRegex:
		re, err := regexp.Compile(def.Expected)
		if err != nil {
			return 0
		}
		if re.MatchString(strings.TrimSpace(output)) {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// normalize collapses runs of whitespace so formatting differences do not
// fail an exact match.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// editSimilarity is 1 minus the Levenshtein distance normalized by the longer
// string's rune length.
func editSimilarity(ref, out string) float64 {
	refRunes := len([]rune(ref))
	outRunes := len([]rune(out))
	if refRunes == 0 && outRunes == 0 {
		return 1
	}
	longest := refRunes
	if outRunes > longest {
		longest = outRunes
	}
	dist := levenshtein.ComputeDistance(ref, out)
	return 1 - float64(dist)/float64(longest)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
