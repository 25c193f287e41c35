package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forest6511/bwbackup/internal/mcp"
	"github.com/forest6511/bwbackup/pkg/audit"
)

var mcpPolicyDir string

func init() {
	rootCmd.AddCommand(mcpServerCmd)

	mcpServerCmd.Flags().StringVar(&mcpPolicyDir, "policy-dir", "", "Directory holding "+mcp.PolicyFileName+" (default: the config file's directory)")
}

// mcpServerCmd starts the MCP server for AI coding assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio that exposes backup
metadata. No tool returns vault contents.

Available tools:
  - backup_list:    List backup files with envelope format and size
  - backup_inspect: Show envelope version and KDF parameters of one file
  - backup_verify:  Decrypt in memory and report item counts (policy required)
  - history_list:   Recent backup runs
  - audit_verify:   Check the audit log HMAC chain

Policy:
  Create mcp-policy.yaml (mode 0600) next to the config file:

    version: 1
    default_action: allow
    allowed_tools: [backup_verify]

  Without a policy file backup_verify is disabled.

Example MCP configuration:
  {
    "mcpServers": {
      "bwbackup": {
        "type": "stdio",
        "command": "/usr/local/bin/bwbackup",
        "args": ["mcp-server"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		policyDir := mcpPolicyDir
		if policyDir == "" {
			policyDir = filepath.Dir(configFile())
		}

		a := newApp(audit.SourceMCP)
		defer a.close()

		opts := &mcp.ServerOptions{
			BackupDir:    cfg.Backup.Dir,
			PolicyDir:    policyDir,
			FilePassword: cfg.Backup.FilePassword,
			Audit:        a.audit,
			Logger:       logger,
		}
		if a.history != nil {
			opts.History = a.history
		}
		server, err := mcp.NewServer(opts)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}

		if err := server.Run(cmd.Context()); err != nil {
			// Don't report context canceled as an error
			if cmd.Context().Err() != nil {
				return nil
			}
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	},
}
