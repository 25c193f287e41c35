// Package runner invokes the external vault CLI as an untrusted subprocess.
//
// The Invoker builds the child environment, logs a redacted command line,
// and turns non-zero exits into *ToolError values whose captured output has
// every known secret masked. The raw stdout of a successful call is returned
// untouched, since it may be the vault export itself.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ExitCodeNotFound is reported when the executable cannot be found.
const ExitCodeNotFound = 127

// Result is what a finished subprocess produced.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner starts a process and waits for it. Implementations return a nil
// error for any process that ran, whatever its exit code; the error is for
// failures to run at all, such as a cancelled context.
type Runner interface {
	Run(ctx context.Context, name string, args []string, env []string) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed by ctx. Zero uses five seconds.
	WaitDelay time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, name string, args []string, env []string) (*Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	case errors.Is(err, exec.ErrNotFound):
		res.ExitCode = ExitCodeNotFound
		res.Stderr = append(res.Stderr, []byte(err.Error())...)
		return res, nil
	default:
		return nil, err
	}
}
