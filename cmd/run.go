package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/structbench/structbench/internal/backend"
	"github.com/structbench/structbench/internal/config"
	"github.com/structbench/structbench/internal/embedding"
	"github.com/structbench/structbench/internal/metric"
	"github.com/structbench/structbench/internal/pricing"
	"github.com/structbench/structbench/internal/report"
	"github.com/structbench/structbench/internal/result"
	"github.com/structbench/structbench/internal/runner"
	"github.com/structbench/structbench/internal/task"
)

var (
	flagBackend     string
	flagTask        string
	flagTrials      int
	flagConcurrency int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a benchmark run",
		RunE:  runBenchmark,
	}
	cmd.Flags().StringVar(&flagBackend, "backend", "", "filter to a single backend")
	cmd.Flags().StringVar(&flagTask, "task", "", "filter to a single task")
	cmd.Flags().IntVar(&flagTrials, "trials", 0, "override trial count")
	cmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "override concurrency limit")
	return cmd
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flagTrials > 0 {
		cfg.Run.Trials = flagTrials
	}
	if flagConcurrency > 0 {
		cfg.Run.Concurrency = flagConcurrency
	}

	tasks, err := task.LoadManifest(cfg.Manifest)
	if err != nil {
		return err
	}
	backends := filterBackends(cfg.Backends, flagBackend)
	if len(backends) == 0 {
		return fmt.Errorf("no backend matches %q", flagBackend)
	}
	tasks = filterTasks(tasks, flagTask)
	if len(tasks) == 0 {
		return fmt.Errorf("no task matches %q", flagTask)
	}

	var rates *pricing.Table
	if cfg.Pricing != "" {
		rates, err = pricing.Load(cfg.Pricing)
		if err != nil {
			return err
		}
	}

	var embedder embedding.Provider
	if needsEmbedding(tasks) {
		embedder, err = embedding.NewOpenAI(cfg.Embedding)
		if err != nil {
			return fmt.Errorf("manifest contains embedding-scored tasks: %w", err)
		}
	}

	store, err := result.Create(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", store.Dir())

	summary, err := runner.Run(context.Background(), &runner.Opts{
		Backends:    backends,
		Tasks:       tasks,
		Trials:      cfg.Run.Trials,
		Concurrency: cfg.Run.Concurrency,
		Timeout:     cfg.Run.Timeout(),
		MaxAttempts: cfg.Run.MaxAttempts,
		Engine:      &metric.Engine{Rates: rates},
		Embedder:    embedder,
		Store:       store,
		Progress:    os.Stdout,
	})
	if err != nil {
		return err
	}
	if err := store.Finalize(); err != nil {
		return err
	}

	fmt.Println("\n--- Results ---")
	if err := report.Generate(store.Dir(), "table", os.Stdout); err != nil {
		return err
	}
	if !summary.Clean() {
		return fmt.Errorf("run completed with %d failed and %d timed-out units", summary.Failed, summary.TimedOut)
	}
	return nil
}

func needsEmbedding(tasks []task.Definition) bool {
	for _, t := range tasks {
		if t.Scoring == task.ScoreEmbedding {
			return true
		}
	}
	return false
}

func filterBackends(backends []backend.Config, name string) []backend.Config {
	if name == "" {
		return backends
	}
	var filtered []backend.Config
	for _, b := range backends {
		if b.Name == name {
			filtered = append(filtered, b)
		}
	}
	return filtered
}

func filterTasks(tasks []task.Definition, name string) []task.Definition {
	if name == "" {
		return tasks
	}
	var filtered []task.Definition
	for _, t := range tasks {
		if t.Name == name || t.ID() == name {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
