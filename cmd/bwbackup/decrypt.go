package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/bwbackup/pkg/audit"
	"github.com/forest6511/bwbackup/pkg/backup"
	"github.com/forest6511/bwbackup/pkg/crypto"
)

var (
	decryptOutput string
	decryptForce  bool
)

func init() {
	rootCmd.AddCommand(decryptCmd)

	decryptCmd.Flags().StringVarP(&decryptOutput, "output", "o", "", "Write plaintext to this file (created with mode 0600)")
	decryptCmd.Flags().BoolVarP(&decryptForce, "force", "f", false, "Allow writing plaintext to a terminal")
	addPasswordFlags(decryptCmd)
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <backup-file>",
	Short: "Decrypt a raw-mode backup to plaintext JSON",
	Long: `Decrypt a backup written in raw mode. Both envelope versions are accepted:
version 1 (PBKDF2) and version 2 (Argon2id).

The plaintext is the full vault export. Prefer -o over redirecting stdout.

Examples:
  bwbackup decrypt /app/backups/backup_20250102_030405.enc -o vault.json
  echo "$PW" | bwbackup decrypt backup.enc --password-stdin | jq '.items | length'`,
	Args: cobra.ExactArgs(1),
	RunE: executeDecrypt,
}

func executeDecrypt(_ *cobra.Command, args []string) error {
	if decryptOutput == "" && !decryptForce && term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("refusing to print plaintext to a terminal (use -o or --force)")
	}

	password, err := filePassword()
	if err != nil {
		return err
	}

	a := newApp(audit.SourceCLI)
	defer a.close()

	plaintext, err := a.manager.Decrypt(args[0], password)
	if err != nil {
		return fmt.Errorf("decryption failed: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	if decryptOutput == "" {
		_, err = os.Stdout.Write(plaintext)
		return err
	}
	if err := writeExclusive(decryptOutput, plaintext); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Decrypted %d bytes to %s\n", len(plaintext), decryptOutput)
	return nil
}

func writeExclusive(path string, data []byte) error {
	f, err := backup.CreateExclusive(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return f.Close()
}
