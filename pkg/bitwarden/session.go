// Package bitwarden drives the Bitwarden CLI through a login, unlock,
// export and logout lifecycle.
package bitwarden

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/bwbackup/pkg/retry"
	"github.com/forest6511/bwbackup/pkg/runner"
	"github.com/forest6511/bwbackup/pkg/security"
)

// Environment variables understood by the CLI.
const (
	EnvSession      = "BW_SESSION"
	EnvClientID     = "BW_CLIENTID"
	EnvClientSecret = "BW_CLIENTSECRET"
)

const logoutTimeout = 30 * time.Second

// State is the lifecycle position of a Session.
type State int

const (
	StateLoggedOut State = iota
	StateLoggedIn
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateLoggedIn:
		return "logged_in"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Credentials authenticate the session. API key login is used when both
// ClientID and ClientSecret are set; otherwise Email and Password.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Email        string
	Password     string
}

// UseAPIKey reports whether API key login applies.
func (c Credentials) UseAPIKey() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Options tunes a Session.
type Options struct {
	// Retry applies to login and unlock. Retryable is always replaced so
	// that only tool failures are retried.
	Retry  retry.Policy
	Logger *zap.Logger
}

// Session is one authenticated use of the CLI. It is not safe for
// concurrent use.
type Session struct {
	inv    *runner.Invoker
	creds  Credentials
	policy retry.Policy
	logger *zap.Logger

	state State
	token string
}

// New creates a logged-out session.
func New(inv *runner.Invoker, creds Credentials, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := opts.Retry
	policy.Retryable = func(err error) bool { return errors.Is(err, runner.ErrExternalTool) }
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if userHook != nil {
			userHook(attempt, delay, err)
		}
	}

	if creds.ClientSecret != "" {
		inv.AddSecret(EnvClientSecret, creds.ClientSecret)
		if security.Rate(creds.ClientSecret, security.KindToken) == security.PasswordWeak {
			logger.Warn("API client secret is shorter than a generated key; check BW_CLIENT_SECRET")
		}
	}
	if creds.Password != "" {
		inv.AddSecret("BW_PASSWORD", creds.Password)
	}

	return &Session{
		inv:    inv,
		creds:  creds,
		policy: policy,
		logger: logger,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// HasToken reports whether a session token is held.
func (s *Session) HasToken() bool {
	return s.token != ""
}

func (s *Session) sessionEnv() map[string]string {
	if s.token == "" {
		return nil
	}
	return map[string]string{EnvSession: s.token}
}

func (s *Session) setToken(token string) {
	s.token = token
	s.inv.AddSecret(EnvSession, token)
}

// ConfigureServer points the CLI at a self-hosted server. Exit code 1 is
// accepted: the CLI refuses to change the server while logged in, which
// leaves the already configured server in place.
func (s *Session) ConfigureServer(ctx context.Context, url string) error {
	s.logger.Info("configuring server", zap.String("server", url))

	_, err := s.inv.Run(ctx, []string{"config", "server", url}, nil)
	if err == nil {
		return nil
	}
	switch {
	case runner.ExitCode(err) == 1:
		s.logger.Debug("server already configured")
		return nil
	case !errors.Is(err, runner.ErrExternalTool):
		// The CLI never ran; clear any session it may hold from a previous run.
		s.bestEffortLogout(ctx)
	}
	return fmt.Errorf("%w: %w", ErrConfigure, err)
}

// Login authenticates and moves the session to LoggedIn. With email and
// password credentials the CLI returns a session token directly and the
// session goes straight to Unlocked.
func (s *Session) Login(ctx context.Context) error {
	if s.state != StateLoggedOut {
		return fmt.Errorf("%w: login requires %s, session is %s", ErrInvalidState, StateLoggedOut, s.state)
	}

	if s.creds.UseAPIKey() {
		s.logger.Info("logging in via API key")
		err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
			_, err := s.inv.Run(ctx, []string{"login", "--apikey"}, map[string]string{
				EnvClientID:     s.creds.ClientID,
				EnvClientSecret: s.creds.ClientSecret,
			})
			return err
		})
		if err != nil {
			s.logger.Error("login failed, logging out", zap.Error(err))
			s.bestEffortLogout(ctx)
			return fmt.Errorf("%w: %w", ErrLogin, err)
		}
		s.state = StateLoggedIn
		s.logger.Info("logged in via API key")
		return nil
	}

	if s.creds.Email == "" {
		return fmt.Errorf("%w: no API key or email configured", ErrLogin)
	}

	s.logger.Info("logging in via email and password")
	token, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.inv.Run(ctx, []string{"login", s.creds.Email, "--password", s.creds.Password, "--raw"}, nil)
	})
	if err != nil {
		s.logger.Error("login failed, logging out", zap.Error(err))
		s.bestEffortLogout(ctx)
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}
	if token == "" {
		s.bestEffortLogout(ctx)
		return fmt.Errorf("%w: %w: empty session token", ErrLogin, runner.ErrOutputFormat)
	}
	s.setToken(token)
	s.state = StateUnlocked
	s.logger.Info("logged in")
	return nil
}

// Unlock decrypts the vault with the master password and stores the
// session token. Requires LoggedIn.
func (s *Session) Unlock(ctx context.Context, masterPassword string) error {
	if s.state != StateLoggedIn {
		return fmt.Errorf("%w: unlock requires %s, session is %s", ErrInvalidState, StateLoggedIn, s.state)
	}
	s.inv.AddSecret("BW_PASSWORD", masterPassword)

	token, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.inv.Run(ctx, []string{"unlock", masterPassword, "--raw"}, s.sessionEnv())
	})
	if err != nil {
		s.logger.Error("unlock failed, logging out", zap.Error(err))
		s.bestEffortLogout(ctx)
		return fmt.Errorf("%w: %w", ErrUnlock, err)
	}
	if token == "" {
		s.bestEffortLogout(ctx)
		return fmt.Errorf("%w: %w: empty session token", ErrUnlock, runner.ErrOutputFormat)
	}

	s.setToken(token)
	s.state = StateUnlocked
	s.logger.Info("vault unlocked")
	return nil
}

// Logout ends the session from any state. The token is cleared even when
// the CLI fails; the error is returned for the caller to log.
func (s *Session) Logout(ctx context.Context) error {
	env := s.sessionEnv()
	s.token = ""
	s.state = StateLoggedOut

	if _, err := s.inv.Run(ctx, []string{"logout"}, env); err != nil {
		return fmt.Errorf("bitwarden: logout failed: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// bestEffortLogout runs after a failed step, often because ctx was
// cancelled, so it detaches from ctx and bounds the call itself.
func (s *Session) bestEffortLogout(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()
	if err := s.Logout(ctx); err != nil {
		s.logger.Debug("best-effort logout failed", zap.Error(err))
	}
}

// Status is the JSON document printed by "bw status".
type Status struct {
	ServerURL string     `json:"serverUrl"`
	LastSync  *time.Time `json:"lastSync"`
	UserEmail string     `json:"userEmail"`
	UserID    string     `json:"userId"`
	Status    string     `json:"status"`
}

// Status queries the CLI for its login state.
func (s *Session) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := s.inv.RunJSON(ctx, []string{"status"}, s.sessionEnv(), &st); err != nil {
		return nil, fmt.Errorf("bitwarden: status failed: %w", err)
	}
	return &st, nil
}

// ExportPlaintext returns the unencrypted JSON export of the vault.
// The caller owns the returned buffer and should wipe it after use.
func (s *Session) ExportPlaintext(ctx context.Context) ([]byte, error) {
	if s.state != StateUnlocked {
		return nil, fmt.Errorf("%w: export requires %s, session is %s", ErrInvalidState, StateUnlocked, s.state)
	}

	s.logger.Info("exporting raw vault data")
	out, err := s.inv.Output(ctx, []string{"export", "--format", "json", "--raw"}, s.sessionEnv())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}
	return out, nil
}

// ExportEncrypted has the CLI write a password-protected export to path.
// path must already be validated by the caller.
func (s *Session) ExportEncrypted(ctx context.Context, path, filePassword string) error {
	if s.state != StateUnlocked {
		return fmt.Errorf("%w: export requires %s, session is %s", ErrInvalidState, StateUnlocked, s.state)
	}
	s.inv.AddSecret("BW_FILE_PASSWORD", filePassword)

	s.logger.Info("exporting with Bitwarden encryption", zap.String("path", path))
	args := []string{"export", "--output", path, "--format", "json", "--password", filePassword}
	if _, err := s.inv.Run(ctx, args, s.sessionEnv()); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	return nil
}
