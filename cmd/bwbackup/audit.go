package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/bwbackup/pkg/audit"
)

var (
	auditLimit int
	auditSince time.Duration
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditListCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().DurationVar(&auditSince, "since", 0, "Show events newer than this duration (e.g. 24h)")
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

func openAuditLog() (*audit.Logger, error) {
	key := cfg.AuditKey()
	if key == nil {
		return nil, errors.New("no audit key: set BACKUP_AUDIT_KEY or BW_FILE_PASSWORD")
	}
	l := audit.NewLogger(cfg.Audit.Dir, audit.SourceCLI)
	if err := l.SetKey(key); err != nil {
		return nil, err
	}
	return l, nil
}

// auditVerifyCmd verifies audit log integrity
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openAuditLog()
		if err != nil {
			return err
		}

		result, err := l.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		if result.Valid {
			fmt.Printf("✓ Audit log verified: %d records, chain intact\n", result.Records)
		} else {
			fmt.Printf("✗ Audit log verification FAILED\n")
			fmt.Printf("  Records total: %d\n", result.Records)
			fmt.Println("  Errors:")
			for _, e := range result.Errors {
				fmt.Printf("    - %s\n", e)
			}
			return errors.New("audit log integrity check failed")
		}

		jsonResult, _ := json.Marshal(result)
		fmt.Printf("\nJSON: %s\n", string(jsonResult))
		return nil
	},
}

// auditListCmd lists audit log entries
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := audit.NewLogger(cfg.Audit.Dir, audit.SourceCLI)

		var since time.Time
		if auditSince > 0 {
			since = time.Now().Add(-auditSince)
		}
		events, err := l.Events(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		// Format: TIMESTAMP OPERATION RESULT [FILE] [ERROR]
		for _, ev := range events {
			line := fmt.Sprintf("%s %s %s", ev.Timestamp, ev.Operation, ev.Result)
			if ev.File != "" {
				line += " " + ev.File
			}
			if ev.Error != nil {
				line += fmt.Sprintf(" [%s: %s]", ev.Error.Code, ev.Error.Message)
			}
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}
