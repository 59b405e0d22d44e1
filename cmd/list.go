package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/structbench/structbench/internal/config"
	"github.com/structbench/structbench/internal/task"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured backends and manifest tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			tasks, err := task.LoadManifest(cfg.Manifest)
			if err != nil {
				return err
			}
			fmt.Println("Backends:")
			for _, b := range cfg.Backends {
				fmt.Printf("  - %s (%s, model: %s)\n", b.Name, b.Library, b.Model)
			}
			fmt.Println("\nTasks:")
			for _, t := range tasks {
				fmt.Printf("  - %s [%s]\n", t.ID(), t.Scoring)
			}
			return nil
		},
	}
}
