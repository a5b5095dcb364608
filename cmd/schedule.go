package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/scheduler"
)

var (
	scheduleInterval time.Duration
	scheduleHTML     string
	scheduleWatch    bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run ingestion at startup and on a fixed interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scheduleWatch && scheduleHTML == "" {
			return eris.New("--watch requires --html")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		interval := cfg.Schedule.Interval
		if scheduleInterval > 0 {
			interval = scheduleInterval
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := env.Controller.DefaultRunOptions()
		opts.HTMLPath = scheduleHTML
		trigger := func(ctx context.Context) error {
			_, err := env.Controller.Run(ctx, opts)
			return err
		}

		watch := ""
		if scheduleWatch {
			watch = scheduleHTML
		}
		s := scheduler.New(trigger, scheduler.Options{Interval: interval, WatchPath: watch}, nil, zap.L())
		return s.Run(ctx)
	},
}

func init() {
	scheduleCmd.Flags().DurationVar(&scheduleInterval, "interval", 0, "time between runs (default from config)")
	scheduleCmd.Flags().StringVar(&scheduleHTML, "html", "", "read the center directory from a saved HTML page")
	scheduleCmd.Flags().BoolVar(&scheduleWatch, "watch", false, "also run whenever the --html file changes")
	rootCmd.AddCommand(scheduleCmd)
}
