package runner

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrExternalTool is the category of every non-zero exit of the tool.
	ErrExternalTool = errors.New("runner: external tool failed")

	// ErrOutputFormat is returned when JSON output was expected but could not be decoded.
	ErrOutputFormat = errors.New("runner: unexpected output format")

	// ErrInvalidEnv is returned for environment overrides that cannot be passed to a process.
	ErrInvalidEnv = errors.New("runner: invalid environment variable")
)

// maxErrorDetail bounds how much stderr is copied into an error message.
const maxErrorDetail = 200

// ToolError describes a non-zero exit. Args is already redacted and
// Stdout/Stderr are already sanitized, so the error is safe to log.
type ToolError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("runner: %s exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		return msg
	}
	if len(detail) > maxErrorDetail {
		cut := maxErrorDetail
		for cut > 0 && !utf8.RuneStart(detail[cut]) {
			cut--
		}
		detail = detail[:cut] + "..."
	}
	return msg + ": " + detail
}

// Unwrap makes errors.Is(err, ErrExternalTool) true for every ToolError.
func (e *ToolError) Unwrap() error {
	return ErrExternalTool
}

// ExitCode extracts the exit code from err, or -1 if err is not a ToolError.
func ExitCode(err error) int {
	var te *ToolError
	if errors.As(err, &te) {
		return te.ExitCode
	}
	return -1
}
