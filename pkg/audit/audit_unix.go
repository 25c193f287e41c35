//go:build !windows

package audit

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// checkDiskSpace refuses to append when the filesystem holding dir has less
// than MinDiskSpace available. A failed statfs does not block logging.
func checkDiskSpace(dir string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		if err := unix.Statfs(filepath.Dir(dir), &st); err != nil {
			return nil
		}
	}
	available := st.Bavail * uint64(st.Bsize)
	if available < MinDiskSpace {
		return fmt.Errorf("%w: %d bytes available, need %d", ErrDiskSpace, available, MinDiskSpace)
	}
	return nil
}
