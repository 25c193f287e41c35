package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/forest6511/bwbackup/internal/cli"
	"github.com/forest6511/bwbackup/pkg/envelope"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info <backup-file|pattern>...",
	Short: "Show the envelope header of backups without decrypting them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := cli.ResolveBackups(args, cfg.Backup.Dir)
		if err != nil {
			return err
		}
		p := message.NewPrinter(language.English)
		for i, path := range paths {
			if i > 0 {
				p.Printf("\n")
			}
			if err := printInfo(p, path); err != nil {
				return err
			}
		}
		return nil
	},
}

func printInfo(p *message.Printer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	info, err := envelope.Inspect(data)
	if err != nil {
		return fmt.Errorf("%s is not a raw-mode backup: %w", path, err)
	}

	p.Printf("File:        %s\n", path)
	p.Printf("Version:     %d", info.Version)
	if info.Legacy {
		p.Printf(" (legacy)")
	}
	p.Printf("\n")
	p.Printf("Cipher:      AES-256-GCM\n")
	p.Printf("KDF:         %s\n", info.KDF.Algorithm)
	p.Printf("  Iterations:  %d\n", info.KDF.Iterations)
	if info.KDF.Memory > 0 {
		p.Printf("  Memory:      %d KiB\n", info.KDF.Memory)
		p.Printf("  Parallelism: %d\n", info.KDF.Parallelism)
	}
	p.Printf("Size:        %d bytes\n", info.TotalSize)
	p.Printf("Plaintext:   %d bytes\n", info.PlaintextLength)
	return nil
}
