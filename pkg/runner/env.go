package runner

import (
	"fmt"
	"sort"
	"strings"
)

// MergeEnv returns base with overrides applied. An override replaces every
// existing entry with the same name; names not present in base are appended
// in sorted order.
func MergeEnv(base []string, overrides map[string]string) ([]string, error) {
	for name, value := range overrides {
		if err := validateEnvEntry(name, value); err != nil {
			return nil, err
		}
	}

	env := make([]string, 0, len(base)+len(overrides))
	applied := make(map[string]bool, len(overrides))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if value, ok := overrides[name]; ok {
			if applied[name] {
				continue
			}
			applied[name] = true
			env = append(env, name+"="+value)
			continue
		}
		env = append(env, kv)
	}

	var added []string
	for name := range overrides {
		if !applied[name] {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	for _, name := range added {
		env = append(env, name+"="+overrides[name])
	}
	return env, nil
}

// validateEnvEntry rejects names and values the kernel would truncate or
// misparse.
func validateEnvEntry(name, value string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidEnv)
	}
	if strings.ContainsRune(name, '=') {
		return fmt.Errorf("%w: %q contains '='", ErrInvalidEnv, name)
	}
	if strings.ContainsRune(name, '\x00') {
		return fmt.Errorf("%w: NUL byte in name %q", ErrInvalidEnv, name)
	}
	if strings.ContainsRune(value, '\x00') {
		return fmt.Errorf("%w: NUL byte in value of %q", ErrInvalidEnv, name)
	}
	return nil
}
