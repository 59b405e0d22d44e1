package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/structbench/structbench/internal/pricing"
	"github.com/structbench/structbench/internal/result"
)

type BackendSummary struct {
	Name            string  `json:"name"`
	Units           int     `json:"units"`
	Scored          int     `json:"scored"`
	Failed          int     `json:"failed"`
	TimedOut        int     `json:"timed_out"`
	PassRate        float64 `json:"pass_rate"`
	MeanCorrectness float64 `json:"mean_correctness"`
	MeanTTFTMs      float64 `json:"mean_ttft_ms"`
	MeanTotalMs     float64 `json:"mean_total_ms"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

// Generate loads a run directory and writes a per-backend summary. A pricing
// table path may be supplied to re-price rows from their recorded token
// counts, e.g. after rates change.
func Generate(runDir, format string, w io.Writer, pricingPath ...string) error {
	run, err := result.Load(runDir)
	if err != nil {
		return err
	}
	if len(pricingPath) > 0 && pricingPath[0] != "" {
		if err := reprice(run, pricingPath[0]); err != nil {
			return err
		}
	}
	summaries := aggregate(run.Results)

	switch format {
	case "markdown":
		return writeMarkdown(summaries, w)
	case "json":
		return writeJSON(summaries, w)
	default:
		return writeTable(run, summaries, w)
	}
}

func reprice(run *result.EvaluationRun, pricingPath string) error {
	table, err := pricing.Load(pricingPath)
	if err != nil {
		return err
	}
	for i := range run.Results {
		row := &run.Results[i]
		row.CostUSD = table.Cost(row.Library, row.Model, row.PromptTokens, row.CompletionTokens)
	}
	return nil
}

func aggregate(rows []result.ScoredResult) []BackendSummary {
	type accum struct {
		units, scored, failed, timedOut int
		withThreshold, passed           int
		correctness, ttft, total, cost  float64
	}
	byBackend := map[string]*accum{}

	for _, row := range rows {
		a, ok := byBackend[row.Backend]
		if !ok {
			a = &accum{}
			byBackend[row.Backend] = a
		}
		a.units++
		a.cost += row.CostUSD
		switch row.Status {
		case result.StatusScored:
			a.scored++
			a.correctness += row.Correctness
			a.ttft += float64(row.TTFTMs)
			a.total += float64(row.TotalMs)
			if row.Passed != nil {
				a.withThreshold++
				if *row.Passed {
					a.passed++
				}
			}
		case result.StatusTimedOut:
			a.timedOut++
		default:
			a.failed++
		}
	}

	var summaries []BackendSummary
	for name, a := range byBackend {
		s := BackendSummary{
			Name:         name,
			Units:        a.units,
			Scored:       a.scored,
			Failed:       a.failed,
			TimedOut:     a.timedOut,
			TotalCostUSD: a.cost,
		}
		if a.scored > 0 {
			s.MeanCorrectness = a.correctness / float64(a.scored)
			s.MeanTTFTMs = a.ttft / float64(a.scored)
			s.MeanTotalMs = a.total / float64(a.scored)
		}
		if a.withThreshold > 0 {
			s.PassRate = float64(a.passed) / float64(a.withThreshold)
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

func writeTable(run *result.EvaluationRun, summaries []BackendSummary, w io.Writer) error {
	state := "in progress"
	if run.Sealed() {
		state = "finalized"
	}
	fmt.Fprintf(w, "Run %s (%s)\n", run.Meta.ID, state)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tUNITS\tSCORED\tFAILED\tTIMED OUT\tPASS RATE\tMEAN SCORE\tMEAN TTFT\tMEAN TOTAL\tCOST")
	fmt.Fprintln(tw, strings.Repeat("-", 100))
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.0f%%\t%.3f\t%.0fms\t%.0fms\t$%.4f\n",
			s.Name, s.Units, s.Scored, s.Failed, s.TimedOut,
			s.PassRate*100, s.MeanCorrectness, s.MeanTTFTMs, s.MeanTotalMs, s.TotalCostUSD)
	}
	return tw.Flush()
}

func writeMarkdown(summaries []BackendSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Backend | Units | Scored | Failed | Timed out | Pass rate | Mean score | Mean TTFT | Mean total | Cost |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %d | %.0f%% | %.3f | %.0fms | %.0fms | $%.4f |\n",
			s.Name, s.Units, s.Scored, s.Failed, s.TimedOut,
			s.PassRate*100, s.MeanCorrectness, s.MeanTTFTMs, s.MeanTotalMs, s.TotalCostUSD)
	}
	return nil
}

func writeJSON(summaries []BackendSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
