package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leasedata/goldenrec/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "goldenrec",
	Short: "Lease attribute normalization and golden record pipeline",
	Long:  "Ingests raw leasehold extracts, normalizes free-text lease terms, validates and corrects attributes, scores confidence, and merges change-only batches into a versioned golden record store.",
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
