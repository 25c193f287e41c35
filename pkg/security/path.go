package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// BackupExtension is the required suffix of every backup file name.
const BackupExtension = ".enc"

// DefaultAllowedRoot is the directory BACKUP_DIR must live under.
const DefaultAllowedRoot = "/app"

var (
	// ErrPathTraversal is returned when a path escapes its allowed base.
	ErrPathTraversal = errors.New("security: path outside allowed directory")

	// ErrInvalidFilename is returned for unsafe characters or a missing .enc suffix.
	ErrInvalidFilename = errors.New("security: invalid backup filename")
)

var safeFilename = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateBackupPath checks that candidate resolves to a file strictly inside
// allowedBase and that its name is safe. It returns the canonical absolute path.
//
// Symlinks are resolved on both sides, so a link inside the base that points
// elsewhere is rejected. The file does not need to exist and is never created.
func ValidateBackupPath(candidate, allowedBase string) (string, error) {
	resolved, err := canonical(candidate)
	if err != nil {
		return "", err
	}
	base, err := canonical(allowedBase)
	if err != nil {
		return "", err
	}

	if !within(resolved, base) || resolved == base {
		return "", fmt.Errorf("%w: must be within %s", ErrPathTraversal, allowedBase)
	}

	name := filepath.Base(resolved)
	if !safeFilename.MatchString(name) {
		return "", fmt.Errorf("%w: only alphanumeric, dots, dashes, and underscores allowed", ErrInvalidFilename)
	}
	if !strings.HasSuffix(name, BackupExtension) {
		return "", fmt.Errorf("%w: must end with %s", ErrInvalidFilename, BackupExtension)
	}
	return resolved, nil
}

// ValidateBackupDir checks that dir resolves to allowedRoot or a directory
// below it and returns the canonical path.
func ValidateBackupDir(dir, allowedRoot string) (string, error) {
	resolved, err := canonical(dir)
	if err != nil {
		return "", err
	}
	root, err := canonical(allowedRoot)
	if err != nil {
		return "", err
	}
	if !within(resolved, root) {
		return "", fmt.Errorf("%w: backup directory %q must be within %s", ErrPathTraversal, dir, allowedRoot)
	}
	return resolved, nil
}

func within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// canonical returns the absolute, symlink-free form of p. When p (or part of
// it) does not exist yet, the deepest existing ancestor is resolved and the
// missing components are appended unchanged.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("security: failed to resolve %q: %w", p, err)
	}

	var missing []string
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("security: failed to resolve %q: %w", p, err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Nothing on the path exists, not even the root.
			return abs, nil
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

// EnsureBackupDir creates dir with owner-only permissions if it does not exist.
func EnsureBackupDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("security: failed to create backup directory: %w", err)
	}
	return nil
}
