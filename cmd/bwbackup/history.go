package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/bwbackup/pkg/history"
)

var (
	historyLimit int
	historyJSON  bool
	historyID    string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print runs as JSON")
	historyCmd.Flags().StringVar(&historyID, "id", "", "Show a single run as JSON")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent backup runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.History.DSN == "" {
			return errors.New("history database not configured (BACKUP_HISTORY_DB)")
		}
		store, err := history.Open(cfg.History.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		if historyID != "" {
			run, err := store.Get(cmd.Context(), historyID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}

		runs, err := store.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		if historyJSON {
			if runs == nil {
				runs = []*history.Record{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No backup runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSTATUS\tMODE\tFILE\tSIZE\tDURATION")
		for _, r := range runs {
			file := r.FileName
			if r.PrunedAt != nil {
				file += " (pruned)"
			}
			if r.Status != history.StatusSuccess {
				file = r.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.StartedAt.Local().Format(time.DateTime), r.Status, r.Mode, file, r.Size, r.Duration().Round(time.Millisecond))
		}
		return w.Flush()
	},
}
