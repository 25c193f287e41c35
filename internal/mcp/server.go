// Package mcp serves backup metadata to AI agents over the Model Context
// Protocol. No tool ever returns vault contents or secret values.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/bwbackup/pkg/audit"
	"github.com/forest6511/bwbackup/pkg/backup"
	"github.com/forest6511/bwbackup/pkg/history"
)

// maxConcurrentVerify bounds backup_verify calls; each one runs Argon2id
// with 64 MiB of memory.
const maxConcurrentVerify = 2

// Version is reported to MCP clients.
const Version = "0.1.0"

// RunStore is the read side of the history catalog.
type RunStore interface {
	List(ctx context.Context, limit int) ([]*history.Record, error)
	Latest(ctx context.Context) (*history.Record, error)
}

// Server is the bwbackup MCP server.
type Server struct {
	server       *mcp.Server
	backupDir    string
	filePassword string
	history      RunStore
	audit        *audit.Logger
	manager      *backup.Manager
	policy       *Policy
	logger       *zap.Logger
	verifySem    chan struct{}
}

// ServerOptions configures NewServer.
type ServerOptions struct {
	// BackupDir holds the backup_*.enc files. Required.
	BackupDir string

	// PolicyDir holds mcp-policy.yaml. Without a policy file the server
	// runs in restricted mode: sensitive tools are refused.
	PolicyDir string

	// FilePassword enables backup_verify when the policy allows it.
	FilePassword string

	History RunStore
	Audit   *audit.Logger
	Logger  *zap.Logger
}

// NewServer creates a server and registers its tools.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.BackupDir == "" {
		return nil, errors.New("mcp: backup directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var policy *Policy
	if opts.PolicyDir != "" {
		p, err := LoadPolicy(opts.PolicyDir)
		switch {
		case err == nil:
			policy = p
		case errors.Is(err, ErrPolicyNotFound):
			logger.Info("no MCP policy file, running in restricted mode")
		default:
			// A broken policy file must not widen access.
			return nil, fmt.Errorf("mcp: failed to load policy: %w", err)
		}
	}

	s := &Server{
		server:       mcp.NewServer(&mcp.Implementation{Name: "bwbackup", Version: Version}, nil),
		backupDir:    opts.BackupDir,
		filePassword: opts.FilePassword,
		history:      opts.History,
		audit:        opts.Audit,
		manager:      backup.NewManager(backup.WithLogger(logger), backup.WithAudit(opts.Audit)),
		policy:       policy,
		logger:       logger,
		verifySem:    make(chan struct{}, maxConcurrentVerify),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolBackupList,
		Description: "List backup files with size, modification time and envelope format. Does NOT decrypt anything.",
	}, s.handleBackupList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolBackupInspect,
		Description: "Show the envelope version and key-derivation parameters of one backup file. No password needed.",
	}, s.handleBackupInspect)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolBackupVerify,
		Description: "Decrypt a backup in memory and report item and folder counts. Never returns vault contents. Requires policy approval.",
	}, s.handleBackupVerify)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolHistoryList,
		Description: "List recent backup runs, newest first.",
	}, s.handleHistoryList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolAuditVerify,
		Description: "Verify the HMAC chain of the audit log.",
	}, s.handleAuditVerify)
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
