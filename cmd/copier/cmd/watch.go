package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/copier/recon"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run reconciliation on an interval until interrupted",
	Long: `Watch runs a reconciliation pass, sleeps for the poll interval, and
repeats. SIGINT/SIGTERM stop the loop at the next run boundary; a run that is
already underway finishes its current target first.`,
	RunE: runWatch,
}

var watchInterval time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.System.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	interval := watchInterval
	if interval <= 0 {
		if interval, err = cfg.System.ParsePollInterval(); err != nil {
			return err
		}
	}

	eng, ledger, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for i := 1; ; i++ {
		rep, err := eng.Run(ctx)
		if rep != nil {
			printReport(rep)
		}
		switch {
		case recon.IsStateCorrupt(err):
			// Never loop on a corrupt ledger; operator intervention only.
			return err
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			fmt.Printf("stopped after %d runs\n", i)
			return nil
		case err != nil:
			log.Sugar().Warnw("run failed, will retry next tick", "err", err)
		}

		select {
		case <-ctx.Done():
			fmt.Printf("stopped after %d runs\n", i)
			return nil
		case <-time.After(interval):
		}
	}
}
