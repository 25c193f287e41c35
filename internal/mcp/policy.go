package mcp

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Policy controls which tools an MCP client may call.
type Policy struct {
	Version       int      `yaml:"version"`
	DefaultAction string   `yaml:"default_action"`
	DeniedTools   []string `yaml:"denied_tools"`
	AllowedTools  []string `yaml:"allowed_tools"`
}

// PolicyFileName is the name of the policy file
const PolicyFileName = "mcp-policy.yaml"

// Policy action constants
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

var (
	// ErrPolicyNotFound is returned when no policy file exists
	ErrPolicyNotFound = errors.New("mcp: policy file not found")

	// ErrPolicyInsecure is returned when the policy file is readable by others
	ErrPolicyInsecure = errors.New("mcp: policy file has insecure permissions")

	// ErrPolicySymlink is returned when the policy file is a symlink
	ErrPolicySymlink = errors.New("mcp: policy file is a symlink")

	// ErrPolicyNotOwnedByUser is returned when the policy file belongs to someone else
	ErrPolicyNotOwnedByUser = errors.New("mcp: policy file not owned by current user")
)

// sensitiveTools decrypt backups. They run only when a policy file names
// them in allowed_tools; default_action never enables them.
var sensitiveTools = []string{toolBackupVerify}

// LoadPolicy reads the policy file from dir. The file is opened without
// following symlinks and checked on the open descriptor.
func LoadPolicy(dir string) (*Policy, error) {
	f, err := openPolicyFile(filepath.Join(dir, PolicyFileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mcp: failed to stat policy file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrPolicyInsecure, perm)
	}
	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("mcp: failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return nil, fmt.Errorf("mcp: failed to parse policy file: %w", err)
	}
	if policy.DefaultAction == "" {
		policy.DefaultAction = ActionDeny
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks the version and default action.
func (p *Policy) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("mcp: unsupported policy version: %d", p.Version)
	}
	if p.DefaultAction != ActionDeny && p.DefaultAction != ActionAllow {
		return fmt.Errorf("mcp: invalid default_action %q (must be %q or %q)", p.DefaultAction, ActionDeny, ActionAllow)
	}
	return nil
}

// IsToolAllowed evaluates denied_tools, then allowed_tools, then
// default_action. A nil policy allows everything except sensitive tools.
func (p *Policy) IsToolAllowed(tool string) (allowed bool, reason string) {
	sensitive := slices.Contains(sensitiveTools, tool)
	if p == nil {
		if sensitive {
			return false, fmt.Sprintf("tool '%s' requires an MCP policy file", tool)
		}
		return true, ""
	}

	if slices.Contains(p.DeniedTools, tool) {
		return false, fmt.Sprintf("tool '%s' is in denied_tools", tool)
	}
	if slices.Contains(p.AllowedTools, tool) {
		return true, ""
	}
	if sensitive {
		return false, fmt.Sprintf("tool '%s' must be listed in allowed_tools", tool)
	}
	if p.DefaultAction == ActionAllow {
		return true, ""
	}
	return false, fmt.Sprintf("tool '%s' not in allowed_tools", tool)
}
