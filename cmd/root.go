package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dnm-router",
	Short: "Route customer statements against the do-not-mail roster",
	Long:  "Extracts company names from statement pages, matches them against the do-not-mail roster, asks a reviewer about uncertain matches and routes every statement to a mailing destination.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
