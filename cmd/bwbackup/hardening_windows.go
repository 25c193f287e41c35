//go:build windows

package main

// disableCoreDumps is a no-op; Windows has no RLIMIT_CORE.
func disableCoreDumps() error {
	return nil
}
