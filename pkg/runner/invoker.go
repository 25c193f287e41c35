package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// DefaultCommand is the vault CLI executable looked up on PATH.
const DefaultCommand = "bw"

// Invoker runs one CLI executable with a controlled environment.
type Invoker struct {
	command   string
	runner    Runner
	logger    *zap.Logger
	environ   func() []string
	sanitizer *Sanitizer
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithRunner replaces the process runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(i *Invoker) { i.runner = r }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithEnviron replaces os.Environ as the base environment.
func WithEnviron(f func() []string) Option {
	return func(i *Invoker) { i.environ = f }
}

// New creates an Invoker for command. An empty command uses DefaultCommand.
func New(command string, opts ...Option) *Invoker {
	if command == "" {
		command = DefaultCommand
	}
	i := &Invoker{
		command:   command,
		runner:    ExecRunner{},
		logger:    zap.NewNop(),
		environ:   os.Environ,
		sanitizer: &Sanitizer{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Command returns the executable name.
func (i *Invoker) Command() string {
	return i.command
}

// AddSecret registers a value that must never appear in logs or errors.
func (i *Invoker) AddSecret(name, value string) {
	i.sanitizer.Add(name, []byte(value))
}

// Sanitize masks every registered secret in s.
func (i *Invoker) Sanitize(s string) string {
	return i.sanitizer.SanitizeString(s)
}

// Run executes the command with args and returns its trimmed stdout.
//
// The environment is the process environment with overrides applied; every
// override value is registered as a secret. A non-zero exit returns a
// *ToolError.
func (i *Invoker) Run(ctx context.Context, args []string, overrides map[string]string) (string, error) {
	out, err := i.Output(ctx, args, overrides)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Output is Run returning bytes, so callers holding secret output can wipe it.
func (i *Invoker) Output(ctx context.Context, args []string, overrides map[string]string) ([]byte, error) {
	out, err := i.run(ctx, args, overrides)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(out), nil
}

// RunJSON executes the command and decodes its stdout into out.
// Undecodable output returns ErrOutputFormat.
func (i *Invoker) RunJSON(ctx context.Context, args []string, overrides map[string]string, out any) error {
	raw, err := i.run(ctx, args, overrides)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(bytes.TrimSpace(raw), out); err != nil {
		i.logger.Error("failed to parse JSON output",
			zap.Strings("args", RedactArgs(i.argv(args))),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrOutputFormat, err)
	}
	return nil
}

func (i *Invoker) argv(args []string) []string {
	return append([]string{i.command}, args...)
}

func (i *Invoker) run(ctx context.Context, args []string, overrides map[string]string) ([]byte, error) {
	env, err := MergeEnv(i.environ(), overrides)
	if err != nil {
		return nil, err
	}
	for name, value := range overrides {
		i.sanitizer.Add(name, []byte(value))
	}

	safe := RedactArgs(i.argv(args))
	i.logger.Info("running command", zap.String("command", strings.Join(safe, " ")))

	res, err := i.runner.Run(ctx, i.command, args, env)
	if err != nil {
		return nil, fmt.Errorf("runner: failed to run %s: %w", i.command, err)
	}
	if res.ExitCode != 0 {
		te := &ToolError{
			Args:     safe,
			ExitCode: res.ExitCode,
			Stdout:   i.sanitizer.SanitizeString(string(res.Stdout)),
			Stderr:   i.sanitizer.SanitizeString(string(res.Stderr)),
		}
		i.logger.Error("command failed",
			zap.String("command", strings.Join(safe, " ")),
			zap.Int("exit_code", te.ExitCode),
			zap.String("stdout", te.Stdout),
			zap.String("stderr", te.Stderr))
		return nil, te
	}
	return res.Stdout, nil
}
