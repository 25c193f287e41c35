package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/bwbackup/pkg/audit"
	"github.com/forest6511/bwbackup/pkg/backup"
	"github.com/forest6511/bwbackup/pkg/envelope"
	"github.com/forest6511/bwbackup/pkg/history"
	"github.com/forest6511/bwbackup/pkg/security"
)

const (
	toolBackupList    = "backup_list"
	toolBackupInspect = "backup_inspect"
	toolBackupVerify  = "backup_verify"
	toolHistoryList   = "history_list"
	toolAuditVerify   = "audit_verify"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// Backup formats reported by BackupInfo.
const (
	FormatEnvelope  = "envelope"
	FormatBitwarden = "bitwarden"
)

// BackupListInput represents input for backup_list.
type BackupListInput struct {
	Limit int `json:"limit,omitempty"`
}

// BackupListOutput represents output for backup_list.
type BackupListOutput struct {
	Backups []BackupInfo `json:"backups"`
}

// BackupInfo describes a backup file without decrypting it.
type BackupInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
	Format   string `json:"format"`
	Version  uint32 `json:"version,omitempty"`
	KDF      string `json:"kdf,omitempty"`
	Legacy   bool   `json:"legacy,omitempty"`
}

// BackupNameInput names one backup file in the backup directory.
type BackupNameInput struct {
	Name string `json:"name"`
}

// BackupVerifyOutput represents output for backup_verify.
type BackupVerifyOutput struct {
	Name    string         `json:"name"`
	Version uint32         `json:"version"`
	Items   int            `json:"items"`
	Folders int            `json:"folders"`
	ByType  map[string]int `json:"by_type,omitempty"`
}

// HistoryListInput represents input for history_list.
type HistoryListInput struct {
	Limit      int  `json:"limit,omitempty"`
	LatestOnly bool `json:"latest_only,omitempty"`
}

// HistoryListOutput represents output for history_list.
type HistoryListOutput struct {
	Runs []*history.Record `json:"runs"`
}

// AuditVerifyInput is empty; audit_verify takes no arguments.
type AuditVerifyInput struct{}

func (s *Server) checkPolicy(tool string) error {
	if allowed, reason := s.policy.IsToolAllowed(tool); !allowed {
		s.logger.Warn("tool call denied by policy", zap.String("tool", tool), zap.String("reason", reason))
		return fmt.Errorf("not allowed by policy: %s", reason)
	}
	return nil
}

// resolveBackup maps a tool-supplied name onto a file inside the backup
// directory.
func (s *Server) resolveBackup(name string) (string, error) {
	if name == "" {
		return "", errors.New("name is required")
	}
	if filepath.Base(name) != name || !backup.IsBackupName(name) {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	return security.ValidateBackupPath(filepath.Join(s.backupDir, name), s.backupDir)
}

func describe(path string) (BackupInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return BackupInfo{}, err
	}
	info := BackupInfo{
		Name:     filepath.Base(path),
		Size:     fi.Size(),
		Modified: fi.ModTime().UTC().Format(time.RFC3339),
		Format:   FormatBitwarden,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return BackupInfo{}, err
	}
	// Files written in bitwarden mode are the CLI's own password-protected
	// JSON and do not parse as an envelope.
	if env, err := envelope.Inspect(data); err == nil {
		info.Format = FormatEnvelope
		info.Version = uint32(env.Version)
		info.KDF = env.KDF.Algorithm
		info.Legacy = env.Legacy
	}
	return info, nil
}

func (s *Server) handleBackupList(_ context.Context, _ *mcp.CallToolRequest, input BackupListInput) (*mcp.CallToolResult, BackupListOutput, error) {
	if err := s.checkPolicy(toolBackupList); err != nil {
		return nil, BackupListOutput{}, err
	}

	paths, err := backup.Backups(s.backupDir)
	if err != nil {
		return nil, BackupListOutput{}, err
	}
	// Newest first.
	for i, j := 0, len(paths)-1; i < j; i, j = i+1, j-1 {
		paths[i], paths[j] = paths[j], paths[i]
	}
	if input.Limit > 0 && len(paths) > input.Limit {
		paths = paths[:input.Limit]
	}

	out := BackupListOutput{Backups: make([]BackupInfo, 0, len(paths))}
	for _, p := range paths {
		info, err := describe(p)
		if err != nil {
			s.logger.Warn("skipping unreadable backup", zap.String("file", filepath.Base(p)), zap.Error(err))
			continue
		}
		out.Backups = append(out.Backups, info)
	}
	return nil, out, nil
}

func (s *Server) handleBackupInspect(_ context.Context, _ *mcp.CallToolRequest, input BackupNameInput) (*mcp.CallToolResult, BackupInfo, error) {
	if err := s.checkPolicy(toolBackupInspect); err != nil {
		return nil, BackupInfo{}, err
	}
	path, err := s.resolveBackup(input.Name)
	if err != nil {
		return nil, BackupInfo{}, err
	}
	info, err := describe(path)
	if err != nil {
		return nil, BackupInfo{}, fmt.Errorf("failed to inspect %s: %w", input.Name, err)
	}
	return nil, info, nil
}

func (s *Server) handleBackupVerify(_ context.Context, _ *mcp.CallToolRequest, input BackupNameInput) (*mcp.CallToolResult, BackupVerifyOutput, error) {
	if err := s.checkPolicy(toolBackupVerify); err != nil {
		return nil, BackupVerifyOutput{}, err
	}
	if s.filePassword == "" {
		return nil, BackupVerifyOutput{}, errors.New("file password not configured")
	}

	select {
	case s.verifySem <- struct{}{}:
		defer func() { <-s.verifySem }()
	default:
		return nil, BackupVerifyOutput{}, fmt.Errorf("too many concurrent %s calls (max %d)", toolBackupVerify, maxConcurrentVerify)
	}

	path, err := s.resolveBackup(input.Name)
	if err != nil {
		return nil, BackupVerifyOutput{}, err
	}
	v, err := s.manager.Verify(path, s.filePassword)
	if err != nil {
		return nil, BackupVerifyOutput{}, fmt.Errorf("verification failed: %w", err)
	}

	out := BackupVerifyOutput{Name: input.Name, Version: uint32(v.Info.Version)}
	if v.Summary != nil {
		out.Items = v.Summary.Items
		out.Folders = v.Summary.Folders
		out.ByType = v.Summary.ByType
	}
	return nil, out, nil
}

func (s *Server) handleHistoryList(ctx context.Context, _ *mcp.CallToolRequest, input HistoryListInput) (*mcp.CallToolResult, HistoryListOutput, error) {
	if err := s.checkPolicy(toolHistoryList); err != nil {
		return nil, HistoryListOutput{}, err
	}
	if s.history == nil {
		return nil, HistoryListOutput{}, errors.New("history database not configured")
	}

	if input.LatestOnly {
		run, err := s.history.Latest(ctx)
		if errors.Is(err, history.ErrNotFound) {
			return nil, HistoryListOutput{Runs: []*history.Record{}}, nil
		}
		if err != nil {
			return nil, HistoryListOutput{}, err
		}
		return nil, HistoryListOutput{Runs: []*history.Record{run}}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	runs, err := s.history.List(ctx, limit)
	if err != nil {
		return nil, HistoryListOutput{}, err
	}
	if runs == nil {
		runs = []*history.Record{}
	}
	return nil, HistoryListOutput{Runs: runs}, nil
}

func (s *Server) handleAuditVerify(_ context.Context, _ *mcp.CallToolRequest, _ AuditVerifyInput) (*mcp.CallToolResult, audit.VerifyResult, error) {
	if err := s.checkPolicy(toolAuditVerify); err != nil {
		return nil, audit.VerifyResult{}, err
	}
	if s.audit == nil {
		return nil, audit.VerifyResult{}, errors.New("audit log not configured")
	}
	res, err := s.audit.Verify()
	if err != nil {
		return nil, audit.VerifyResult{}, err
	}
	return nil, *res, nil
}
