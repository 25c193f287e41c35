package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/forest6511/bwbackup/pkg/audit"
	"github.com/forest6511/bwbackup/pkg/bitwarden"
	"github.com/forest6511/bwbackup/pkg/crypto"
	"github.com/forest6511/bwbackup/pkg/envelope"
)

var backupName = regexp.MustCompile(`^backup_\d{8}_\d{6}\.enc$`)

// IsBackupName reports whether name looks like a file written by Run.
func IsBackupName(name string) bool {
	return backupName.MatchString(name)
}

// Backups returns the paths of the regular backup files in dir, oldest first.
// Names embed the start time, so lexical order is chronological.
func Backups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to list %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsBackupName(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// DecryptFile reads a raw-mode backup and returns the plaintext export.
// The caller should wipe the result with crypto.SecureWipe.
func DecryptFile(path, password string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read %s: %w", filepath.Base(path), err)
	}
	return envelope.Decrypt(data, password)
}

// Verification is the outcome of VerifyFile.
type Verification struct {
	Path    string             `json:"path"`
	Info    *envelope.Info     `json:"info"`
	Summary *bitwarden.Summary `json:"summary,omitempty"`
}

// VerifyFile decrypts path, discards the plaintext and reports what it held.
// Summary is nil when the plaintext is not a vault export.
func VerifyFile(path, password string) (*Verification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read %s: %w", filepath.Base(path), err)
	}
	info, err := envelope.Inspect(data)
	if err != nil {
		return nil, err
	}
	plaintext, err := envelope.Decrypt(data, password)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	v := &Verification{Path: path, Info: info}
	if sum, err := bitwarden.Summarize(plaintext); err == nil {
		v.Summary = sum
	}
	return v, nil
}

// Decrypt is DecryptFile with an audit record.
func (m *Manager) Decrypt(path, password string) ([]byte, error) {
	plaintext, err := DecryptFile(path, password)
	if err != nil {
		m.auditFailure(audit.OpBackupDecrypt, filepath.Base(path), "decrypt", err)
		return nil, err
	}
	m.auditSuccess(audit.OpBackupDecrypt, filepath.Base(path), nil)
	return plaintext, nil
}

// Verify is VerifyFile with an audit record.
func (m *Manager) Verify(path, password string) (*Verification, error) {
	v, err := VerifyFile(path, password)
	if err != nil {
		m.auditFailure(audit.OpBackupVerify, filepath.Base(path), "verify", err)
		return nil, err
	}
	m.auditSuccess(audit.OpBackupVerify, filepath.Base(path), map[string]string{
		"version": strconv.FormatUint(uint64(v.Info.Version), 10),
	})
	return v, nil
}

// Prune deletes the oldest backups in dir so that at most keep remain and
// returns the deleted paths. keep <= 0 keeps everything.
func (m *Manager) Prune(ctx context.Context, dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to resolve %s: %w", dir, err)
	}
	paths, err := Backups(resolved)
	if err != nil {
		return nil, err
	}
	if len(paths) <= keep {
		return nil, nil
	}

	var removed []string
	for _, p := range paths[:len(paths)-keep] {
		if err := os.Remove(p); err != nil {
			return removed, fmt.Errorf("backup: failed to remove %s: %w", filepath.Base(p), err)
		}
		removed = append(removed, p)
		m.logger.Info("pruned backup", zap.String("file", filepath.Base(p)))

		if m.history != nil {
			if _, err := m.history.MarkPruned(ctx, p, m.now()); err != nil {
				m.logger.Warn("failed to mark run as pruned", zap.String("file", filepath.Base(p)), zap.Error(err))
			}
		}
	}

	m.auditSuccess(audit.OpBackupPrune, "", map[string]string{
		"removed": strconv.Itoa(len(removed)),
		"kept":    strconv.Itoa(keep),
	})
	return removed, nil
}
