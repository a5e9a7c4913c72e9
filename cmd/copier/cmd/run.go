package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/copier/config"
	"github.com/rustyeddy/copier/recon"
	"github.com/rustyeddy/copier/store"
	"github.com/rustyeddy/copier/terminal"
	"github.com/rustyeddy/copier/terminal/sim"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one reconciliation pass and exit",
	RunE:  runOnce,
}

var driver string

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&driver, "driver", "sim", "terminal driver (sim)")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.System.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	eng, ledger, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer ledger.Close()

	rep, err := eng.Run(cmd.Context())
	if rep != nil {
		printReport(rep)
	}
	if err != nil {
		return err
	}
	if rep.Failed() {
		return errors.New("run completed with errors")
	}
	return nil
}

// buildEngine wires the configured terminals, the state ledger and the engine.
// Every gateway is wrapped with bounded retry per the system config; the
// engine itself never retries.
func buildEngine(cfg *config.Config, log *zap.Logger) (*recon.Engine, store.Store, error) {
	backoff, err := cfg.System.ParseRetryBackoff()
	if err != nil {
		return nil, nil, err
	}

	src, err := buildTerminal("source", cfg.Source)
	if err != nil {
		return nil, nil, err
	}
	src = terminal.WithRetry(src, cfg.System.MaxRetries, backoff)

	var targets []recon.Target
	for name, tc := range cfg.Targets {
		t, err := buildTerminal(name, tc.Credentials)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, recon.Target{
			Name:     name,
			Terminal: terminal.WithRetry(t, cfg.System.MaxRetries, backoff),
			Config:   tc,
		})
	}

	ledger, err := store.OpenSQLite(cfg.State.Path)
	if err != nil {
		return nil, nil, err
	}

	venues := make([]string, 0, len(cfg.Targets))
	for name := range cfg.Targets {
		venues = append(venues, name)
	}
	if err := ledger.PruneVenues(venues); err != nil {
		ledger.Close()
		return nil, nil, fmt.Errorf("prune stale venues: %w", err)
	}

	return recon.New(src, targets, ledger, log), ledger, nil
}

// buildTerminal returns the gateway session for one venue. The sim driver is
// the only in-tree implementation; live venue connectors implement
// terminal.Terminal and plug in here.
func buildTerminal(venue string, creds config.Credentials) (terminal.Terminal, error) {
	switch driver {
	case "sim":
		return sim.New(venue), nil
	default:
		return nil, fmt.Errorf("unknown terminal driver %q", driver)
	}
}

func printReport(rep *recon.Report) {
	fmt.Printf("run %s (%.2fs)\n", rep.RunID, rep.End.Sub(rep.Start).Seconds())
	for _, t := range rep.Targets {
		status := "ok"
		if t.Failed {
			status = "FAILED"
		}
		fmt.Printf("  %-16s %s  created=%d updated=%d orphans_flagged=%d orphans_cleared=%d\n",
			t.Venue, status, t.Created, t.Updated, t.OrphansFlagged, t.OrphansCleared)
		rej := append([]recon.Rejection(nil), t.Rejections...)
		sort.Slice(rej, func(i, j int) bool { return rej[i].Tag < rej[j].Tag })
		for _, r := range rej {
			fmt.Printf("    rejected %d [%s] %s\n", r.Tag, r.Code, r.Reason)
		}
		for _, e := range t.Errors {
			fmt.Printf("    error: %s\n", e)
		}
	}
}
