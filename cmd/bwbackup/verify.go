package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/bwbackup/internal/cli"
	"github.com/forest6511/bwbackup/pkg/audit"
	"github.com/forest6511/bwbackup/pkg/backup"
)

var verifyJSON bool

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Print the verifications as JSON")
	addPasswordFlags(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify <backup-file|pattern>...",
	Short: "Check that raw-mode backups decrypt",
	Long: `Decrypt backups in memory, discard the plaintext and report what they held.
A wrong password and a modified file fail the same way.

Arguments are file paths, or names and globs matched in the backup directory.

Examples:
  bwbackup verify /app/backups/backup_20250102_030405.enc
  bwbackup verify 'backup_202501*'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := cli.ResolveBackups(args, cfg.Backup.Dir)
		if err != nil {
			return err
		}
		password, err := filePassword()
		if err != nil {
			return err
		}

		a := newApp(audit.SourceCLI)
		defer a.close()

		var (
			results []*backup.Verification
			failed  int
		)
		for _, p := range paths {
			v, err := a.manager.Verify(p, password)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", p, err)
				continue
			}
			results = append(results, v)
			if !verifyJSON {
				printVerification(v)
			}
		}

		if verifyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d backups failed verification", failed, len(paths))
		}
		if len(results) == 0 {
			return errors.New("nothing verified")
		}
		return nil
	},
}

func printVerification(v *backup.Verification) {
	fmt.Printf("✓ %s decrypts (envelope v%d, %s)\n", v.Path, v.Info.Version, v.Info.KDF.Algorithm)
	if v.Info.Legacy {
		fmt.Println("  Note: legacy envelope; a new backup will use the current format")
	}
	s := v.Summary
	if s == nil {
		return
	}
	fmt.Printf("  Items: %d, folders: %d\n", s.Items, s.Folders)
	for _, t := range cli.MapKeys(s.ByType) {
		fmt.Printf("    %-10s %d\n", t, s.ByType[t])
	}
	if s.WeakPasswords > 0 || s.ReusedPasswords > 0 {
		fmt.Printf("  Weak passwords: %d, reused: %d in %d groups\n", s.WeakPasswords, s.ReusedPasswords, s.ReusedGroups)
	}
}
