package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/structbench/structbench/internal/backend"
	"github.com/structbench/structbench/internal/config"
	"github.com/structbench/structbench/internal/pricing"
	"github.com/structbench/structbench/internal/task"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check config, manifest, and pricing without calling any backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			var problems []string

			supported := backend.Supported()
			for _, b := range cfg.Backends {
				if !slices.Contains(supported, b.Library) {
					problems = append(problems, fmt.Sprintf("backend %q: unsupported library %q (supported: %v)", b.Name, b.Library, supported))
					continue
				}
				// Constructing the adapter checks credentials and endpoint
				// configuration without issuing a request.
				if _, err := backend.New(b); err != nil {
					problems = append(problems, fmt.Sprintf("backend %q: %v", b.Name, err))
				}
			}

			tasks, err := task.LoadManifest(cfg.Manifest)
			if err != nil {
				problems = append(problems, err.Error())
			}

			embeddingTasks := 0
			for _, t := range tasks {
				if t.Scoring == task.ScoreEmbedding {
					embeddingTasks++
				}
			}
			if embeddingTasks > 0 && cfg.Embedding.Model == "" && cfg.Embedding.APIKeyEnv == "" {
				fmt.Printf("note: %d task(s) score by embedding similarity; the default embedding provider will be used\n", embeddingTasks)
			}

			if cfg.Pricing != "" {
				if _, err := pricing.Load(cfg.Pricing); err != nil {
					problems = append(problems, err.Error())
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Printf("  FAIL: %s\n", p)
				}
				return fmt.Errorf("%d problem(s) found", len(problems))
			}
			fmt.Printf("OK: %d backend(s), %d task(s)\n", len(cfg.Backends), len(tasks))
			return nil
		},
	}
}
