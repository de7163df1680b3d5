package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "landcover-cli",
	Short: "Supervised land-cover classification from satellite imagery",
	Long:  "Resolves a region, composites STAC imagery over it, trains a random forest on labelled locations, reports accuracy and kappa, and optionally exports the results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
