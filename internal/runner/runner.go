package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/structbench/structbench/internal/backend"
	"github.com/structbench/structbench/internal/embedding"
	"github.com/structbench/structbench/internal/metric"
	"github.com/structbench/structbench/internal/result"
	"github.com/structbench/structbench/internal/task"
)

// Unit is one (task, backend, trial) execution. Index is its submission
// position; the result sequence is ordered by it regardless of completion
// order.
type Unit struct {
	Index   int
	Task    task.Definition
	Backend backend.Config
	Trial   int
}

// Opts configures one evaluation run.
type Opts struct {
	Backends []backend.Config
	Tasks    []task.Definition

	Trials      int
	Concurrency int
	Timeout     time.Duration
	// MaxAttempts bounds retries of transient failures; the first attempt
	// counts.
	MaxAttempts int
	RetryDelay  time.Duration

	Engine   *metric.Engine
	Embedder embedding.Provider
	Store    *result.Store

	// NewGenerator defaults to backend.New; tests inject stubs here.
	NewGenerator func(backend.Config) (backend.Generator, error)

	// Progress receives per-unit progress lines; nil discards them.
	Progress io.Writer
}

// Summary counts terminal unit statuses for one run.
type Summary struct {
	Total    int
	Scored   int
	Failed   int
	TimedOut int
}

// Clean reports whether every unit ended scored.
func (s *Summary) Clean() bool {
	return s.Failed == 0 && s.TimedOut == 0
}

const (
	defaultTimeout    = 60 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
)

// Run executes every (task, backend, trial) unit with bounded concurrency
// and appends one row per unit to the store. Per-unit failures never abort
// the run; only a store append failure does.
func Run(ctx context.Context, opts *Opts) (*Summary, error) {
	if opts.Trials < 1 {
		opts.Trials = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.NewGenerator == nil {
		opts.NewGenerator = backend.New
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}

	gens := make(map[string]backend.Generator, len(opts.Backends))
	genErrs := make(map[string]error, len(opts.Backends))
	for _, cfg := range opts.Backends {
		gen, err := opts.NewGenerator(cfg)
		if err != nil {
			// Fatal to this backend's units only; the rest of the run
			// proceeds.
			log.Printf("warning: backend %q: %v", cfg.Name, err)
			genErrs[cfg.Name] = err
			continue
		}
		gens[cfg.Name] = gen
	}

	refVecs, refErrs := embedReferences(ctx, opts)

	var units []Unit
	for _, cfg := range opts.Backends {
		for _, def := range opts.Tasks {
			for trial := 1; trial <= opts.Trials; trial++ {
				units = append(units, Unit{
					Index:   len(units),
					Task:    def,
					Backend: cfg,
					Trial:   trial,
				})
			}
		}
	}

	statuses := make([]result.Status, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := range units {
		unit := &units[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(opts.Progress, "Running %s × %s (trial %d/%d)...\n",
				unit.Backend.Name, unit.Task.ID(), unit.Trial, opts.Trials)

			row := executeUnit(gctx, opts, unit, gens, genErrs, refVecs, refErrs)
			statuses[unit.Index] = row.Status

			// Store.Append serializes concurrent writers itself.
			if err := opts.Store.Append(row); err != nil {
				// Losing a row after a successful generation would be a
				// silent drop; halt the whole run.
				return fmt.Errorf("appending result for unit %d: %w", unit.Index, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{Total: len(units)}
	for _, st := range statuses {
		switch st {
		case result.StatusScored:
			summary.Scored++
		case result.StatusTimedOut:
			summary.TimedOut++
		default:
			summary.Failed++
		}
	}
	return summary, nil
}

// embedReferences vectorizes each embedding-scored task's reference answer
// once, up front. Per-task failures are recorded and surface on the affected
// units, not the run.
func embedReferences(ctx context.Context, opts *Opts) (map[string][]float32, map[string]error) {
	vecs := make(map[string][]float32)
	errs := make(map[string]error)
	for i := range opts.Tasks {
		def := &opts.Tasks[i]
		if def.Scoring != task.ScoreEmbedding {
			continue
		}
		if opts.Embedder == nil {
			errs[def.ID()] = fmt.Errorf("task %q scores by embedding similarity but no embedding provider is configured", def.ID())
			continue
		}
		vec, err := opts.Embedder.Embed(ctx, def.Expected)
		if err != nil {
			errs[def.ID()] = fmt.Errorf("embedding reference for task %q: %w", def.ID(), err)
			continue
		}
		vecs[def.ID()] = vec
	}
	return vecs, errs
}

func executeUnit(ctx context.Context, opts *Opts, unit *Unit,
	gens map[string]backend.Generator, genErrs map[string]error,
	refVecs map[string][]float32, refErrs map[string]error) *result.ScoredResult {

	gen, ok := gens[unit.Backend.Name]
	if !ok {
		return failedRow(unit, 0, genErrs[unit.Backend.Name])
	}
	if err, bad := refErrs[unit.Task.ID()]; bad {
		return failedRow(unit, 0, err)
	}

	var rec *backend.GenerationRecord
	attempts := 0
	for {
		attempts++
		unitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		r, err := gen.Generate(unitCtx, &unit.Task)
		cancel()
		if err == nil {
			rec = r
			break
		}
		if backend.IsTimeout(err) && ctx.Err() == nil {
			row := failedRow(unit, attempts, err)
			row.Status = result.StatusTimedOut
			return row
		}
		if ctx.Err() != nil {
			return failedRow(unit, attempts, ctx.Err())
		}
		if backend.IsTransient(err) && attempts < opts.MaxAttempts {
			delay := opts.RetryDelay << (attempts - 1)
			log.Printf("warning: %s × %s attempt %d failed, retrying in %v: %v",
				unit.Backend.Name, unit.Task.ID(), attempts, delay, err)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return failedRow(unit, attempts, ctx.Err())
			}
		}
		return failedRow(unit, attempts, err)
	}

	var vec *metric.Vectors
	if unit.Task.Scoring == task.ScoreEmbedding {
		embedCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		outVec, err := opts.Embedder.Embed(embedCtx, rec.Output)
		cancel()
		if err != nil {
			return failedRow(unit, attempts, fmt.Errorf("embedding output: %w", err))
		}
		vec = &metric.Vectors{Reference: refVecs[unit.Task.ID()], Output: outVec}
	}

	row := opts.Engine.Score(rec, &unit.Task, vec)
	row.Index = unit.Index
	row.Trial = unit.Trial
	row.Attempts = attempts
	return row
}

func failedRow(unit *Unit, attempts int, err error) *result.ScoredResult {
	row := &result.ScoredResult{
		Index:    unit.Index,
		Task:     unit.Task.ID(),
		Backend:  unit.Backend.Name,
		Library:  unit.Backend.Library,
		Model:    unit.Backend.Model,
		Trial:    unit.Trial,
		Status:   result.StatusFailed,
		Attempts: attempts,
	}
	if err != nil {
		row.ErrorKind = errorKind(err)
		row.Error = err.Error()
	}
	return row
}

func errorKind(err error) string {
	switch {
	case backend.IsTimeout(err):
		return "timeout"
	case backend.IsTransient(err):
		return "backend_unavailable"
	case errors.Is(err, backend.ErrUnsupportedBackend):
		return "unsupported_backend"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		var malformed *backend.MalformedOutputError
		if errors.As(err, &malformed) {
			return "malformed_output"
		}
		return "internal"
	}
}
