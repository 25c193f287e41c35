// Package cli holds helpers shared by bwbackup commands.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forest6511/bwbackup/pkg/backup"
)

// ExpandPattern matches a glob pattern against names. A pattern without
// glob characters (*?[) must match exactly.
func ExpandPattern(pattern string, names []string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		for _, n := range names {
			if n == pattern {
				return []string{pattern}, nil
			}
		}
		return nil, fmt.Errorf("backup '%s' not found", pattern)
	}

	var matches []string
	for _, n := range names {
		if ok, _ := filepath.Match(pattern, n); ok {
			matches = append(matches, n)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no backups match pattern '%s'", pattern)
	}
	return matches, nil
}

// ExpandPatterns expands several patterns and returns each name once, in
// order of first match.
func ExpandPatterns(patterns []string, names []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string
	for _, p := range patterns {
		matches, err := ExpandPattern(p, names)
		if err != nil {
			return nil, err
		}
		for _, n := range matches {
			if !seen[n] {
				seen[n] = true
				result = append(result, n)
			}
		}
	}
	return result, nil
}

// ResolveBackups turns command arguments into backup file paths. An argument
// naming an existing file is used as is; anything else is a name or glob
// matched against the backups in dir, e.g. "backup_202501*".
func ResolveBackups(args []string, dir string) ([]string, error) {
	var (
		paths    []string
		patterns []string
	)
	for _, a := range args {
		if fi, err := os.Stat(a); err == nil && fi.Mode().IsRegular() {
			paths = append(paths, a)
			continue
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		patterns = append(patterns, a)
	}
	if len(patterns) == 0 {
		return paths, nil
	}

	files, err := backup.Backups(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	matched, err := ExpandPatterns(patterns, names)
	if err != nil {
		return nil, err
	}
	for _, n := range matched {
		paths = append(paths, filepath.Join(dir, n))
	}
	return paths, nil
}

// MapKeys extracts keys from a map and returns them sorted.
func MapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
