package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	ingestHTML     string
	ingestStrategy string
	ingestWorkers  int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass over every dispatch center",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if ingestStrategy != "" {
			cfg.Extract.Strategy = ingestStrategy
		}
		if ingestWorkers > 0 {
			cfg.Ingest.Workers = ingestWorkers
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := env.Controller.DefaultRunOptions()
		opts.HTMLPath = ingestHTML
		sum, err := env.Controller.Run(ctx, opts)
		if err != nil {
			zap.L().Warn("ingestion run interrupted", zap.Error(err))
			return err
		}
		return printSummary(cmd.OutOrStdout(), "text", sum.States, nil, &sum)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestHTML, "html", "", "read the center directory from a saved HTML page")
	ingestCmd.Flags().StringVar(&ingestStrategy, "strategy", "", "extraction strategy: auto, api or grid (default from config)")
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "concurrent centers, 1-4 (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
