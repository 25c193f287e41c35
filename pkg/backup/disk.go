package backup

// MinFreeSpace is the free space a run requires in the backup directory.
const MinFreeSpace = 10 * 1024 * 1024

// DiskSpaceInfo describes the filesystem holding a directory.
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"` // available to non-root users
	UsedPct   int    `json:"used_pct"`
}

func usedPercent(total, free uint64) int {
	if total == 0 {
		return 0
	}
	return int(100 * (total - free) / total)
}
