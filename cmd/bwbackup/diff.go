package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/bwbackup/pkg/audit"
	"github.com/forest6511/bwbackup/pkg/backup"
	"github.com/forest6511/bwbackup/pkg/crypto"
)

var diffPatch bool

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().BoolVar(&diffPatch, "patch", false, "Also print the listing diff as a patch")
	addPasswordFlags(diffCmd)
}

var diffCmd = &cobra.Command{
	Use:   "diff <old-backup> <new-backup>",
	Short: "Show items added or removed between two raw-mode backups",
	Long: `Decrypt two backups with the same file password and compare their item
listings (type, folder and name). Secret fields are never shown.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := filePassword()
		if err != nil {
			return err
		}

		a := newApp(audit.SourceCLI)
		defer a.close()

		oldPlain, err := a.manager.Decrypt(args[0], password)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		defer crypto.SecureWipe(oldPlain)
		newPlain, err := a.manager.Decrypt(args[1], password)
		if err != nil {
			return fmt.Errorf("%s: %w", args[1], err)
		}
		defer crypto.SecureWipe(newPlain)

		d, err := backup.Compare(oldPlain, newPlain)
		if err != nil {
			return err
		}

		if d.Empty() {
			fmt.Printf("No item changes (%d items)\n", d.Unchanged)
			return nil
		}
		for _, l := range d.Removed {
			fmt.Printf("- %s\n", l)
		}
		for _, l := range d.Added {
			fmt.Printf("+ %s\n", l)
		}
		fmt.Printf("%d added, %d removed, %d unchanged\n", len(d.Added), len(d.Removed), d.Unchanged)
		if diffPatch {
			fmt.Println()
			fmt.Print(d.Patch)
		}
		return nil
	},
}
