//go:build !windows

package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DiskSpace reports space on the filesystem holding dir, or its parent when
// dir does not exist yet.
func DiskSpace(dir string) (*DiskSpaceInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		if err := unix.Statfs(filepath.Dir(dir), &st); err != nil {
			return nil, fmt.Errorf("backup: failed to get disk stats: %w", err)
		}
	}

	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bfree * bsize
	return &DiskSpaceInfo{
		Total:     total,
		Free:      free,
		Available: st.Bavail * bsize,
		UsedPct:   usedPercent(total, free),
	}, nil
}

// CreateExclusive creates path for writing with mode 0600. It fails if path
// exists or is a symlink.
func CreateExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|unix.O_NOFOLLOW, 0o600)
}
