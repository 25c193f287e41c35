//go:build !windows

package main

import "golang.org/x/sys/unix"

// disableCoreDumps sets RLIMIT_CORE to 0 so a crash cannot write decrypted
// vault data to disk.
func disableCoreDumps() error {
	return unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
}
