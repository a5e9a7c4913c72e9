package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/copier/config"
	"github.com/rustyeddy/copier/recon"
	"github.com/rustyeddy/copier/store"
	"github.com/rustyeddy/copier/terminal"
	"github.com/rustyeddy/copier/terminal/sim"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk a copy through its whole lifecycle against in-memory venues",
	Long: `Demo seeds an in-memory source and target, then runs four passes:
the copy is created, its stop-loss change is propagated, the source order
disappears, and after the orphan threshold the copy is cancelled.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	log, err := newLogger("warn")
	if err != nil {
		return err
	}
	defer log.Sync()

	source := sim.New("source")
	source.AddSymbol("EURUSD", 0.01)
	source.SeedOrder(terminal.Order{
		Ticket: 100,
		Symbol: "EURUSD",
		Type:   terminal.BuyLimit,
		Volume: 1.0,
		Price:  1.0850,
	})

	target := sim.New("demo-target")
	target.AddSymbol("EURUSD.x", 0.01)

	tc := config.DefaultTarget()
	tc.Credentials = config.Credentials{Account: "demo", Server: "demo"}
	tc.LotMultiplier = 0.5
	tc.SymbolMapping = map[string]string{"EURUSD": "EURUSD.x"}
	tc.OrphanPolicy = config.OrphanPolicy{Act: true, ThresholdRuns: 2}

	dir, err := os.MkdirTemp("", "copier-demo")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	ledger, err := store.OpenSQLite(filepath.Join(dir, "state.sqlite"))
	if err != nil {
		return err
	}
	defer ledger.Close()

	eng := recon.New(source, []recon.Target{
		{Name: "demo-target", Terminal: target, Config: tc},
	}, ledger, log)

	steps := []struct {
		label  string
		mutate func() error
	}{
		{"copy the source order", nil},
		{"propagate a stop-loss change", func() error {
			sl := 1.0800
			return source.ModifyOrder(cmd.Context(), 100, terminal.Changes{StopLoss: &sl})
		}},
		{"source order vanishes (miss 1 of 2, no action)", func() error {
			source.RemoveOrder(100)
			return nil
		}},
		{"miss 2 of 2, orphan cancelled", nil},
	}

	for i, step := range steps {
		if step.mutate != nil {
			if err := step.mutate(); err != nil {
				return err
			}
		}
		fmt.Printf("--- pass %d: %s\n", i+1, step.label)
		rep, err := eng.Run(cmd.Context())
		if err != nil {
			return err
		}
		printReport(rep)
	}
	return nil
}
