package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forest6511/bwbackup/pkg/audit"
)

var pruneKeep int

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 0, "Number of newest backups to keep (default BACKUP_KEEP)")
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the oldest backups beyond a retention count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keep := cfg.Backup.Keep
		if cmd.Flags().Changed("keep") {
			keep = pruneKeep
		}
		if keep <= 0 {
			return errors.New("nothing to do: set --keep or BACKUP_KEEP to a positive count")
		}

		a := newApp(audit.SourceCLI)
		defer a.close()

		removed, err := a.manager.Prune(cmd.Context(), cfg.Backup.Dir, keep)
		for _, p := range removed {
			fmt.Printf("Removed %s\n", filepath.Base(p))
		}
		if err != nil {
			return err
		}
		fmt.Printf("%d backups removed, newest %d kept\n", len(removed), keep)
		return nil
	},
}
