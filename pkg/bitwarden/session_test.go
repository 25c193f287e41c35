package bitwarden

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/forest6511/bwbackup/pkg/retry"
	"github.com/forest6511/bwbackup/pkg/runner"
)

// scriptRunner answers each subcommand from a queue of results. The last
// result for a subcommand repeats once the queue is drained.
type scriptRunner struct {
	script map[string][]*runner.Result
	calls  [][]string
	envs   [][]string
}

func (s *scriptRunner) Run(_ context.Context, _ string, args []string, env []string) (*runner.Result, error) {
	s.calls = append(s.calls, args)
	s.envs = append(s.envs, env)
	key := args[0]
	queue := s.script[key]
	if len(queue) == 0 {
		return &runner.Result{}, nil
	}
	res := queue[0]
	if len(queue) > 1 {
		s.script[key] = queue[1:]
	}
	return res, nil
}

func (s *scriptRunner) count(sub string) int {
	n := 0
	for _, c := range s.calls {
		if c[0] == sub {
			n++
		}
	}
	return n
}

func (s *scriptRunner) envOf(sub string) []string {
	for i, c := range s.calls {
		if c[0] == sub {
			return s.envs[i]
		}
	}
	return nil
}

func ok(stdout string) *runner.Result { return &runner.Result{Stdout: []byte(stdout)} }

func fail(code int, stderr string) *runner.Result {
	return &runner.Result{ExitCode: code, Stderr: []byte(stderr)}
}

type sleeps struct{ delays []time.Duration }

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestSession(sr *scriptRunner, creds Credentials) (*Session, *sleeps, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	sl := &sleeps{}
	inv := runner.New("bw",
		runner.WithRunner(sr),
		runner.WithLogger(logger),
		runner.WithEnviron(func() []string { return nil }),
	)
	s := New(inv, creds, Options{Retry: retry.Policy{Sleep: sl.sleep}, Logger: logger})
	return s, sl, logs
}

var apiCreds = Credentials{ClientID: "user.abc", ClientSecret: "client-secret-xyz"}

func TestNewWarnsOnWeakClientSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		warn   bool
	}{
		{"short", "abc123", true},
		{"generated length", "client-secret-xyz", false},
		{"email login", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := Credentials{ClientID: "user.abc", ClientSecret: tt.secret}
			_, _, logs := newTestSession(&scriptRunner{}, creds)
			got := logs.FilterMessageSnippet("API client secret").Len() == 1
			if got != tt.warn {
				t.Errorf("warned = %v, want %v", got, tt.warn)
			}
			for _, e := range logs.All() {
				if tt.secret != "" && strings.Contains(e.Message+fmt.Sprint(e.ContextMap()), tt.secret) {
					t.Errorf("log entry %q contains the secret", e.Message)
				}
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{
		"unlock": {ok("session-token-1\n")},
		"export": {ok(`{"encrypted":false,"items":[]}`)},
	}}
	s, _, _ := newTestSession(sr, apiCreds)
	ctx := context.Background()

	if s.State() != StateLoggedOut {
		t.Fatalf("initial state = %s", s.State())
	}
	if err := s.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.State() != StateLoggedIn || s.HasToken() {
		t.Fatalf("after login: state = %s token = %v", s.State(), s.HasToken())
	}

	env := strings.Join(sr.envOf("login"), "\n")
	if !strings.Contains(env, "BW_CLIENTID=user.abc") || !strings.Contains(env, "BW_CLIENTSECRET=client-secret-xyz") {
		t.Errorf("login env = %q", env)
	}

	if err := s.Unlock(ctx, "master-pw"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if s.State() != StateUnlocked {
		t.Fatalf("after unlock: state = %s", s.State())
	}

	data, err := s.ExportPlaintext(ctx)
	if err != nil {
		t.Fatalf("ExportPlaintext() error = %v", err)
	}
	if string(data) != `{"encrypted":false,"items":[]}` {
		t.Errorf("export = %q", data)
	}
	if !strings.Contains(strings.Join(sr.envOf("export"), "\n"), "BW_SESSION=session-token-1") {
		t.Error("export did not receive the session token")
	}

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if s.State() != StateLoggedOut || s.HasToken() {
		t.Errorf("after logout: state = %s token = %v", s.State(), s.HasToken())
	}
}

func TestLoginRetriesThenSucceeds(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{
		"login": {fail(1, "network"), ok("")},
	}}
	s, sl, logs := newTestSession(sr, apiCreds)

	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sr.count("login") != 2 {
		t.Errorf("login calls = %d, want 2", sr.count("login"))
	}
	if len(sl.delays) != 1 || sl.delays[0] != 2*time.Second {
		t.Errorf("delays = %v, want [2s]", sl.delays)
	}
	if logs.FilterMessage("attempt failed, retrying").Len() != 1 {
		t.Error("retry was not logged")
	}
}

func TestLoginExhaustsRetries(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{
		"login": {fail(1, "invalid client")},
	}}
	s, sl, _ := newTestSession(sr, apiCreds)

	err := s.Login(context.Background())
	if !errors.Is(err, ErrLogin) || !errors.Is(err, runner.ErrExternalTool) {
		t.Fatalf("Login() error = %v, want ErrLogin wrapping ErrExternalTool", err)
	}
	if sr.count("login") != 3 {
		t.Errorf("login calls = %d, want 3", sr.count("login"))
	}
	if len(sl.delays) != 2 || sl.delays[1] != 4*time.Second {
		t.Errorf("delays = %v, want [2s 4s]", sl.delays)
	}
	if sr.count("logout") != 1 {
		t.Errorf("logout calls = %d, want 1", sr.count("logout"))
	}
	if s.State() != StateLoggedOut {
		t.Errorf("state = %s", s.State())
	}
}

func TestLoginEmailShortCircuitsToUnlocked(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{
		"login": {ok("email-token")},
	}}
	s, _, logs := newTestSession(sr, Credentials{Email: "me@example.com", Password: "hunter22"})

	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.State() != StateUnlocked || !s.HasToken() {
		t.Errorf("state = %s token = %v, want unlocked with token", s.State(), s.HasToken())
	}
	if got := sr.calls[0]; strings.Join(got, " ") != "login me@example.com --password hunter22 --raw" {
		t.Errorf("args = %v", got)
	}
	for _, e := range logs.All() {
		if strings.Contains(fmt.Sprint(e.ContextMap()), "hunter22") {
			t.Errorf("log entry %q contains the password", e.Message)
		}
	}

	if err := s.Unlock(context.Background(), "x"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Unlock() after email login error = %v, want %v", err, ErrInvalidState)
	}
}

func TestLoginRequiresLoggedOut(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{}}
	s, _, _ := newTestSession(sr, apiCreds)
	if err := s.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Login(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Login() error = %v, want %v", err, ErrInvalidState)
	}
}

func TestUnlockFailure(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{
		"unlock": {fail(1, "Invalid master password.")},
	}}
	s, _, logs := newTestSession(sr, apiCreds)
	ctx := context.Background()

	if err := s.Login(ctx); err != nil {
		t.Fatal(err)
	}
	err := s.Unlock(ctx, "secret123")
	if !errors.Is(err, ErrUnlock) {
		t.Fatalf("Unlock() error = %v, want %v", err, ErrUnlock)
	}
	if sr.count("unlock") != 3 || sr.count("logout") != 1 {
		t.Errorf("unlock calls = %d logout calls = %d", sr.count("unlock"), sr.count("logout"))
	}
	if s.State() != StateLoggedOut {
		t.Errorf("state = %s", s.State())
	}
	if strings.Contains(err.Error(), "secret123") {
		t.Errorf("error contains the password: %v", err)
	}
	for _, e := range logs.All() {
		if strings.Contains(fmt.Sprint(e.ContextMap()), "secret123") {
			t.Errorf("log entry %q contains the password", e.Message)
		}
	}
}

func TestUnlockEmptyToken(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{"unlock": {ok("  \n")}}}
	s, _, _ := newTestSession(sr, apiCreds)
	ctx := context.Background()
	_ = s.Login(ctx)

	err := s.Unlock(ctx, "pw")
	if !errors.Is(err, ErrUnlock) || !errors.Is(err, runner.ErrOutputFormat) {
		t.Errorf("Unlock() error = %v", err)
	}
}

func TestUnlockNotRetriedOnCancel(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{}}
	s, _, _ := newTestSession(sr, apiCreds)
	_ = s.Login(context.Background())

	cancelling := &cancelRunner{}
	s.inv = runner.New("bw", runner.WithRunner(cancelling), runner.WithEnviron(func() []string { return nil }))

	if err := s.Unlock(context.Background(), "pw"); !errors.Is(err, context.Canceled) {
		t.Errorf("Unlock() error = %v, want context.Canceled", err)
	}
	if cancelling.unlocks != 1 {
		t.Errorf("unlock attempts = %d, want 1", cancelling.unlocks)
	}
}

type cancelRunner struct{ unlocks int }

func (c *cancelRunner) Run(_ context.Context, _ string, args []string, _ []string) (*runner.Result, error) {
	if args[0] == "unlock" {
		c.unlocks++
		return nil, context.Canceled
	}
	return &runner.Result{}, nil
}

// ctxRunner fails unlock and records the context error seen by logout.
type ctxRunner struct {
	logouts   int
	logoutErr error
}

func (c *ctxRunner) Run(ctx context.Context, _ string, args []string, _ []string) (*runner.Result, error) {
	switch args[0] {
	case "unlock":
		return nil, context.Canceled
	case "logout":
		c.logouts++
		c.logoutErr = ctx.Err()
	}
	return &runner.Result{}, nil
}

func TestUnlockCancelledStillLogsOut(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{}}
	s, _, _ := newTestSession(sr, apiCreds)
	_ = s.Login(context.Background())

	cr := &ctxRunner{}
	s.inv = runner.New("bw", runner.WithRunner(cr), runner.WithEnviron(func() []string { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Unlock(ctx, "pw"); !errors.Is(err, ErrUnlock) {
		t.Fatalf("Unlock() error = %v, want %v", err, ErrUnlock)
	}
	if cr.logouts != 1 {
		t.Fatalf("logout calls = %d, want 1", cr.logouts)
	}
	if cr.logoutErr != nil {
		t.Errorf("logout ran with a cancelled context: %v", cr.logoutErr)
	}
	if s.State() != StateLoggedOut {
		t.Errorf("state = %s", s.State())
	}
}

func TestLogoutClearsTokenOnFailure(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{
		"unlock": {ok("tok-1234")},
		"logout": {fail(1, "You are not logged in.")},
	}}
	s, _, _ := newTestSession(sr, apiCreds)
	ctx := context.Background()
	_ = s.Login(ctx)
	_ = s.Unlock(ctx, "pw")

	if err := s.Logout(ctx); err == nil {
		t.Fatal("Logout() error = nil, want tool failure")
	}
	if s.State() != StateLoggedOut || s.HasToken() {
		t.Errorf("state = %s token = %v", s.State(), s.HasToken())
	}
}

func TestExportRequiresUnlocked(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{}}
	s, _, _ := newTestSession(sr, apiCreds)

	if _, err := s.ExportPlaintext(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ExportPlaintext() error = %v, want %v", err, ErrInvalidState)
	}
	if err := s.ExportEncrypted(context.Background(), "/app/backups/x.enc", "pw"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ExportEncrypted() error = %v, want %v", err, ErrInvalidState)
	}
	if len(sr.calls) != 0 {
		t.Errorf("CLI was called %d times", len(sr.calls))
	}
}

func TestExportFailure(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{
		"unlock": {ok("tok-1234")},
		"export": {fail(1, "export failed")},
	}}
	s, _, _ := newTestSession(sr, apiCreds)
	ctx := context.Background()
	_ = s.Login(ctx)
	_ = s.Unlock(ctx, "pw")

	if _, err := s.ExportPlaintext(ctx); !errors.Is(err, ErrExport) {
		t.Errorf("ExportPlaintext() error = %v, want %v", err, ErrExport)
	}
	if sr.count("export") != 1 {
		t.Errorf("export was retried: %d calls", sr.count("export"))
	}
}

func TestExportEncryptedArgs(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{"unlock": {ok("tok-1234")}}}
	s, _, _ := newTestSession(sr, apiCreds)
	ctx := context.Background()
	_ = s.Login(ctx)
	_ = s.Unlock(ctx, "pw")

	if err := s.ExportEncrypted(ctx, "/app/backups/backup_1.enc", "filepw"); err != nil {
		t.Fatalf("ExportEncrypted() error = %v", err)
	}
	last := sr.calls[len(sr.calls)-1]
	want := "export --output /app/backups/backup_1.enc --format json --password filepw"
	if strings.Join(last, " ") != want {
		t.Errorf("args = %q, want %q", strings.Join(last, " "), want)
	}
}

func TestConfigureServer(t *testing.T) {
	tests := []struct {
		name    string
		result  *runner.Result
		wantErr bool
	}{
		{"success", ok("Saved setting `config`."), false},
		{"already configured", fail(1, "Logout required before server config update."), false},
		{"other failure", fail(2, "boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := &scriptRunner{script: map[string][]*runner.Result{"config": {tt.result}}}
			s, _, _ := newTestSession(sr, apiCreds)

			err := s.ConfigureServer(context.Background(), "https://vault.example.com")
			if tt.wantErr && !errors.Is(err, ErrConfigure) {
				t.Errorf("ConfigureServer() error = %v, want %v", err, ErrConfigure)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ConfigureServer() error = %v", err)
			}
			if got := strings.Join(sr.calls[0], " "); got != "config server https://vault.example.com" {
				t.Errorf("args = %q", got)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	sr := &scriptRunner{script: map[string][]*runner.Result{
		"status": {ok(`{"serverUrl":"https://vault.example.com","lastSync":"2024-01-01T12:00:00.000Z","userEmail":"me@example.com","userId":"u1","status":"locked"}`)},
	}}
	s, _, _ := newTestSession(sr, apiCreds)

	st, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Status != "locked" || st.ServerURL != "https://vault.example.com" || st.LastSync == nil {
		t.Errorf("Status() = %+v", st)
	}
}
