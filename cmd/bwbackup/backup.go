package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forest6511/bwbackup/pkg/audit"
	"github.com/forest6511/bwbackup/pkg/backup"
)

var (
	backupMode   string
	backupDir    string
	backupNotify bool
	backupJSON   bool
)

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVar(&backupMode, "mode", "", "Encryption mode: raw, bitwarden (overrides BACKUP_ENCRYPTION_MODE)")
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "Backup directory (overrides BACKUP_DIR)")
	backupCmd.Flags().BoolVar(&backupNotify, "notify", true, "Send configured NATS/Telegram notifications")
	backupCmd.Flags().BoolVar(&backupJSON, "json", false, "Print the result as JSON")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export the vault and write an encrypted backup file",
	Long: `Log in to the vault, export it and write backup_YYYYMMDD_HHMMSS.enc into
the backup directory. The vault is always logged out afterwards.

Modes:
  raw        export plaintext JSON and encrypt it with BW_FILE_PASSWORD (AES-256-GCM, Argon2id)
  bitwarden  let the Bitwarden CLI write a password-protected export

Examples:
  bwbackup backup
  bwbackup backup --mode raw --dir /app/backups/manual`,
	Args: cobra.NoArgs,
	RunE: executeBackup,
}

func executeBackup(cmd *cobra.Command, _ []string) error {
	if backupMode != "" {
		cfg.Backup.Mode = backupMode
	}
	if backupDir != "" {
		cfg.Backup.Dir = backupDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a := newApp(audit.SourceCLI)
	defer a.close()
	if backupNotify {
		if err := a.withNotifiers(); err != nil {
			logger.Warn("notifications disabled", zap.Error(err))
		}
	}

	res, err := a.runBackup(cmd.Context())
	if res != nil {
		printResult(res)
	}
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	return nil
}

func printResult(res *backup.Result) {
	if backupJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return
	}
	if !res.Succeeded() {
		return
	}
	fmt.Printf("Backup written: %s\n", res.Path)
	fmt.Printf("  Mode:    %s\n", res.Mode)
	fmt.Printf("  Size:    %d bytes\n", res.Size)
	fmt.Printf("  SHA-256: %s\n", res.SHA256)
	if res.Summary != nil {
		fmt.Printf("  Items:   %d in %d folders\n", res.Summary.Items, res.Summary.Folders)
	}
}
