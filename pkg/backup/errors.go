package backup

import "errors"

var (
	// ErrInvalidMode indicates an encryption mode outside raw and bitwarden.
	ErrInvalidMode = errors.New("backup: invalid encryption mode")

	// ErrNoFilePassword indicates the file encryption password is missing.
	ErrNoFilePassword = errors.New("backup: file password is required")

	// ErrDiskSpace indicates the backup directory is almost full.
	ErrDiskSpace = errors.New("backup: insufficient disk space")

	// ErrArchiveEntry indicates an archive member that cannot be extracted safely.
	ErrArchiveEntry = errors.New("backup: unsafe archive entry")
)
