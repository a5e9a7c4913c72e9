package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/copier/store"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Dump the tracked-relationship ledger",
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ledger, err := store.OpenSQLite(cfg.State.Path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	snap, err := ledger.Snapshot()
	if err != nil {
		return err
	}

	venues := make([]string, 0, len(snap))
	for v := range snap {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VENUE\tTAG\tKIND\tSTATE\tTICKET\tMISSING\tRUN")
	for _, v := range venues {
		tags := make([]int64, 0, len(snap[v]))
		for tag := range snap[v] {
			tags = append(tags, tag)
		}
		sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
		for _, tag := range tags {
			r := snap[v][tag]
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%d\t%s\n",
				r.Venue, r.Tag, r.Kind, r.State, r.TargetTicket, r.MissingRuns, r.LastRunID)
		}
	}
	return w.Flush()
}
