// Package backup runs the export pipeline: log in, unlock, export the vault,
// encrypt it into a timestamped .enc file and log out again.
//
// Two encryption modes are supported:
//   - raw: the plaintext JSON export is sealed in an envelope (pkg/envelope)
//   - bitwarden: the CLI writes its own password-protected export
//
// Files: 0600, directory: 0700, plaintext buffers wiped after encryption.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forest6511/bwbackup/pkg/audit"
	"github.com/forest6511/bwbackup/pkg/bitwarden"
	"github.com/forest6511/bwbackup/pkg/crypto"
	"github.com/forest6511/bwbackup/pkg/envelope"
	"github.com/forest6511/bwbackup/pkg/history"
	"github.com/forest6511/bwbackup/pkg/security"
)

// Mode selects who encrypts the export.
type Mode string

const (
	ModeRaw       Mode = "raw"
	ModeBitwarden Mode = "bitwarden"
)

// DefaultMode is used when no mode is configured.
const DefaultMode = ModeBitwarden

// FilePrefix and the timestamp layout make up backup file names.
const (
	FilePrefix      = "backup_"
	TimestampLayout = "20060102_150405"
)

const logoutTimeout = 30 * time.Second

// ParseMode trims and lowercases s and checks it against the known modes.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeRaw, ModeBitwarden:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (must be %q or %q)", ErrInvalidMode, s, ModeRaw, ModeBitwarden)
}

// FileName returns the backup file name for a run started at t.
func FileName(t time.Time) string {
	return FilePrefix + t.Format(TimestampLayout) + security.BackupExtension
}

// Vault is the part of a bitwarden.Session the pipeline drives.
type Vault interface {
	State() bitwarden.State
	Login(ctx context.Context) error
	Unlock(ctx context.Context, masterPassword string) error
	ExportPlaintext(ctx context.Context) ([]byte, error)
	ExportEncrypted(ctx context.Context, path, filePassword string) error
	Logout(ctx context.Context) error
}

// History stores run records. *history.Store implements it.
type History interface {
	Record(ctx context.Context, r *history.Record) error
	MarkPruned(ctx context.Context, path string, at time.Time) (int64, error)
}

// Options configures a single run.
type Options struct {
	// Dir receives the backup file. It must lie within AllowedRoot.
	Dir string
	// AllowedRoot defaults to security.DefaultAllowedRoot.
	AllowedRoot    string
	Mode           Mode
	MasterPassword string
	FilePassword   string
}

// Result describes a finished run, successful or not.
type Result struct {
	ID              string             `json:"id"`
	FileName        string             `json:"file_name,omitempty"`
	Path            string             `json:"path,omitempty"`
	Mode            Mode               `json:"mode"`
	EnvelopeVersion uint32             `json:"envelope_version,omitempty"`
	Size            int64              `json:"size,omitempty"`
	SHA256          string             `json:"sha256,omitempty"`
	Summary         *bitwarden.Summary `json:"summary,omitempty"`
	Status          string             `json:"status"`
	Error           string             `json:"error,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
}

// Succeeded reports whether the run produced a backup file.
func (r *Result) Succeeded() bool {
	return r.Status == history.StatusSuccess
}

func (r *Result) record() *history.Record {
	rec := &history.Record{
		ID:              r.ID,
		FileName:        r.FileName,
		Path:            r.Path,
		Mode:            string(r.Mode),
		EnvelopeVersion: r.EnvelopeVersion,
		Size:            r.Size,
		SHA256:          r.SHA256,
		Status:          r.Status,
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
	}
	if r.Summary != nil {
		rec.Items = r.Summary.Items
		rec.Folders = r.Summary.Folders
	}
	return rec
}

// Manager runs backups and maintains the files they produce. History and
// audit are optional.
type Manager struct {
	logger  *zap.Logger
	history History
	audit   *audit.Logger
	now     func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithHistory records every run in h.
func WithHistory(h History) ManagerOption {
	return func(m *Manager) { m.history = h }
}

// WithAudit appends audit events to a.
func WithAudit(a *audit.Logger) ManagerOption {
	return func(m *Manager) { m.audit = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run performs one backup. The returned Result is never nil; on failure it
// carries the error message and the error is also returned. The vault is
// always logged out before Run returns, and a logout failure is only logged.
func (m *Manager) Run(ctx context.Context, v Vault, opts Options) (*Result, error) {
	started := m.now()
	res := &Result{
		ID:        uuid.NewString(),
		Mode:      opts.Mode,
		StartedAt: started,
	}
	m.auditSuccess(audit.OpBackupStart, "", map[string]string{"mode": string(opts.Mode)})
	m.logger.Info("starting backup", zap.String("run_id", res.ID), zap.String("mode", string(opts.Mode)))

	err := m.run(ctx, v, opts, res)
	res.FinishedAt = m.now()

	if err != nil {
		res.Status = history.StatusFailed
		res.Error = err.Error()
		m.logger.Error("backup failed", zap.String("run_id", res.ID), zap.Error(err))
		m.auditFailure(audit.OpBackupFailed, res.FileName, "backup", err)
	} else {
		res.Status = history.StatusSuccess
		m.logger.Info("backup completed",
			zap.String("run_id", res.ID),
			zap.String("file", res.FileName),
			zap.Int64("size", res.Size),
			zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))
		m.auditSuccess(audit.OpBackupSuccess, res.FileName, map[string]string{
			"mode":   string(res.Mode),
			"sha256": res.SHA256,
		})
	}

	if m.history != nil {
		if herr := m.history.Record(ctx, res.record()); herr != nil {
			m.logger.Warn("failed to record backup history", zap.Error(herr))
		}
	}
	return res, err
}

func (m *Manager) run(ctx context.Context, v Vault, opts Options, res *Result) error {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return err
	}
	res.Mode = mode
	if opts.FilePassword == "" {
		return ErrNoFilePassword
	}
	if security.CheckPasswordStrength(opts.FilePassword) == security.PasswordWeak {
		m.logger.Warn("file password is weak; use at least 8 characters, ideally 14 or more")
	}

	root := opts.AllowedRoot
	if root == "" {
		root = security.DefaultAllowedRoot
	}
	dir, err := security.ValidateBackupDir(opts.Dir, root)
	if err != nil {
		return err
	}
	if err := security.EnsureBackupDir(dir); err != nil {
		return err
	}
	if err := m.checkDiskSpace(dir); err != nil {
		return err
	}

	defer m.logout(ctx, v)

	if err := v.Login(ctx); err != nil {
		m.auditFailure(audit.OpVaultLogin, "", "login", err)
		return err
	}
	m.auditSuccess(audit.OpVaultLogin, "", nil)

	// Email logins return a session token and skip the unlock step.
	if v.State() != bitwarden.StateUnlocked {
		if err := v.Unlock(ctx, opts.MasterPassword); err != nil {
			m.auditFailure(audit.OpVaultUnlockFailed, "", "unlock", err)
			return err
		}
		m.auditSuccess(audit.OpVaultUnlock, "", nil)
	}

	res.FileName = FileName(res.StartedAt)
	path, err := security.ValidateBackupPath(filepath.Join(dir, res.FileName), dir)
	if err != nil {
		return err
	}
	res.Path = path

	switch mode {
	case ModeRaw:
		if err := m.writeRaw(ctx, v, path, opts.FilePassword, res); err != nil {
			return err
		}
	case ModeBitwarden:
		if err := v.ExportEncrypted(ctx, path, opts.FilePassword); err != nil {
			return err
		}
		if err := os.Chmod(path, 0o600); err != nil {
			m.logger.Warn("failed to restrict backup file permissions", zap.Error(err))
		}
	}

	size, sum, err := digest(path)
	if err != nil {
		return err
	}
	res.Size = size
	res.SHA256 = sum
	return nil
}

func (m *Manager) writeRaw(ctx context.Context, v Vault, path, password string, res *Result) error {
	plaintext, err := v.ExportPlaintext(ctx)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(plaintext)

	if sum, err := bitwarden.Summarize(plaintext); err != nil {
		m.logger.Warn("export is not a readable vault document", zap.Error(err))
	} else {
		res.Summary = sum
		if sum.WeakPasswords > 0 || sum.ReusedGroups > 0 {
			m.logger.Info("vault password health",
				zap.Int("weak", sum.WeakPasswords),
				zap.Int("reused_groups", sum.ReusedGroups))
		}
	}

	m.logger.Info("encrypting export", zap.Int("bytes", len(plaintext)))
	env, err := envelope.Encrypt(plaintext, password)
	if err != nil {
		return err
	}
	res.EnvelopeVersion = uint32(env.Version)
	return writeFile(path, env.Marshal())
}

func (m *Manager) logout(ctx context.Context, v Vault) {
	// A failed Login or Unlock has already logged the session out.
	if v.State() == bitwarden.StateLoggedOut {
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()

	if err := v.Logout(lctx); err != nil {
		m.logger.Warn("logout failed", zap.Error(err))
		m.auditFailure(audit.OpVaultLogout, "", "logout", err)
		return
	}
	m.auditSuccess(audit.OpVaultLogout, "", nil)
}

func (m *Manager) checkDiskSpace(dir string) error {
	info, err := DiskSpace(dir)
	if err != nil {
		m.logger.Debug("disk space check skipped", zap.Error(err))
		return nil
	}
	if info.Available < MinFreeSpace {
		return fmt.Errorf("%w: %d bytes available in %s, need %d", ErrDiskSpace, info.Available, dir, MinFreeSpace)
	}
	if info.UsedPct >= 90 {
		m.logger.Warn("backup volume almost full", zap.Int("used_pct", info.UsedPct))
	}
	return nil
}

func (m *Manager) auditSuccess(op, file string, ctx map[string]string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Success(op, file, ctx); err != nil {
		m.logger.Warn("audit write failed", zap.String("op", op), zap.Error(err))
	}
}

func (m *Manager) auditFailure(op, file, code string, cause error) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Failure(op, file, code, cause.Error()); err != nil {
		m.logger.Warn("audit write failed", zap.String("op", op), zap.Error(err))
	}
}

// writeFile creates path exclusively with mode 0600, refusing to follow a
// symlink planted at the destination.
func writeFile(path string, data []byte) error {
	f, err := CreateExclusive(path)
	if err != nil {
		return fmt.Errorf("backup: failed to create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("backup: failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("backup: failed to sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func digest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, "", fmt.Errorf("backup: export did not produce %s", filepath.Base(path))
		}
		return 0, "", fmt.Errorf("backup: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("backup: failed to hash %s: %w", filepath.Base(path), err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
