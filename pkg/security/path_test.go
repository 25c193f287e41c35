package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// tempBase returns a symlink-free temporary directory.
func tempBase(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks() error = %v", err)
	}
	return dir
}

func TestValidateBackupPath(t *testing.T) {
	base := tempBase(t)
	if err := os.Mkdir(filepath.Join(base, "sub"), 0o700); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		candidate string
		want      string
		wantErr   error
	}{
		{"plain file", filepath.Join(base, "backup_20240101_120000.enc"), filepath.Join(base, "backup_20240101_120000.enc"), nil},
		{"nested existing dir", filepath.Join(base, "sub", "x.enc"), filepath.Join(base, "sub", "x.enc"), nil},
		{"nested missing dir", filepath.Join(base, "new", "deeper", "x.enc"), filepath.Join(base, "new", "deeper", "x.enc"), nil},
		{"dot segments inside base", filepath.Join(base, "sub", "..", "y.enc"), filepath.Join(base, "y.enc"), nil},
		{"parent escape", base + "/../etc/passwd.enc", "", ErrPathTraversal},
		{"absolute elsewhere", "/etc/passwd.enc", "", ErrPathTraversal},
		{"base itself", base, "", ErrPathTraversal},
		{"space in name", filepath.Join(base, "bad name.enc"), "", ErrInvalidFilename},
		{"shell chars", filepath.Join(base, "x;rm.enc"), "", ErrInvalidFilename},
		{"wrong extension", filepath.Join(base, "backup.json"), "", ErrInvalidFilename},
		{"no extension", filepath.Join(base, "backup"), "", ErrInvalidFilename},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateBackupPath(tt.candidate, base)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidateBackupPath(%q) error = %v, want %v", tt.candidate, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateBackupPath(%q) error = %v", tt.candidate, err)
			}
			if got != tt.want {
				t.Errorf("ValidateBackupPath(%q) = %q, want %q", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestValidateBackupPathDoesNotCreate(t *testing.T) {
	base := tempBase(t)
	p := filepath.Join(base, "missing", "x.enc")

	if _, err := ValidateBackupPath(p, base); err != nil {
		t.Fatalf("ValidateBackupPath() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "missing")); !os.IsNotExist(err) {
		t.Errorf("validation created %s", filepath.Join(base, "missing"))
	}
}

func TestValidateBackupPathSymlinkEscape(t *testing.T) {
	base := tempBase(t)
	outside := tempBase(t)

	link := filepath.Join(base, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := ValidateBackupPath(filepath.Join(link, "x.enc"), base)
	if !errors.Is(err, ErrPathTraversal) {
		t.Errorf("ValidateBackupPath(through symlink) error = %v, want %v", err, ErrPathTraversal)
	}
}

func TestValidateBackupPathSymlinkedBase(t *testing.T) {
	target := tempBase(t)
	link := filepath.Join(tempBase(t), "backups")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	got, err := ValidateBackupPath(filepath.Join(link, "x.enc"), link)
	if err != nil {
		t.Fatalf("ValidateBackupPath() error = %v", err)
	}
	if want := filepath.Join(target, "x.enc"); got != want {
		t.Errorf("ValidateBackupPath() = %q, want %q", got, want)
	}
}

func TestValidateBackupPathAppLayout(t *testing.T) {
	if _, err := os.Lstat("/app"); err == nil {
		t.Skip("/app exists on this host")
	}

	got, err := ValidateBackupPath("/app/backups/backup_20240101_120000.enc", "/app/backups")
	if err != nil || got != "/app/backups/backup_20240101_120000.enc" {
		t.Errorf("ValidateBackupPath(valid) = %q, %v", got, err)
	}
	if _, err := ValidateBackupPath("/app/backups/../etc/passwd.enc", "/app/backups"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("ValidateBackupPath(escape) error = %v, want %v", err, ErrPathTraversal)
	}
	if _, err := ValidateBackupPath("/app/backups/bad name.enc", "/app/backups"); !errors.Is(err, ErrInvalidFilename) {
		t.Errorf("ValidateBackupPath(space) error = %v, want %v", err, ErrInvalidFilename)
	}
}

func TestValidateBackupDir(t *testing.T) {
	root := tempBase(t)

	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{"root itself", root, false},
		{"child", filepath.Join(root, "backups"), false},
		{"prefix sibling", root + "-other", true},
		{"parent", filepath.Dir(root), true},
		{"escape", filepath.Join(root, "..", "x"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateBackupDir(tt.dir, root)
			if tt.wantErr && !errors.Is(err, ErrPathTraversal) {
				t.Errorf("ValidateBackupDir(%q) error = %v, want %v", tt.dir, err, ErrPathTraversal)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateBackupDir(%q) error = %v", tt.dir, err)
			}
		})
	}
}

func TestEnsureBackupDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureBackupDir(dir); err != nil {
		t.Fatalf("EnsureBackupDir() error = %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Errorf("permissions = %o, want owner-only", perm)
	}
}
