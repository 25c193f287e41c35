package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv(EnvConfigPath, "/nonexistent/bwbackup.yaml")
	t.Setenv("BW_CLIENT_ID", "user.abc")
	t.Setenv("BW_CLIENT_SECRET", "client-secret")
	t.Setenv("BW_PASSWORD", "master")
	t.Setenv("BW_SERVER", "https://vault.example.com")
	t.Setenv("BW_FILE_PASSWORD", "file-password")
}

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Bitwarden.Command != "bw" {
		t.Errorf("expected command bw, got %s", cfg.Bitwarden.Command)
	}
	if cfg.Backup.Dir != "/app/backups" || cfg.Backup.AllowedRoot != "/app" {
		t.Errorf("unexpected backup paths %s / %s", cfg.Backup.Dir, cfg.Backup.AllowedRoot)
	}
	if cfg.Backup.Mode != "bitwarden" {
		t.Errorf("expected default mode bitwarden, got %s", cfg.Backup.Mode)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.BaseDelay != 2*time.Second || cfg.Retry.MaxDelay != 30*time.Second {
		t.Errorf("unexpected retry defaults %+v", cfg.Retry)
	}
	if cfg.Notify.NATSSubject != "bwbackup" {
		t.Errorf("expected subject bwbackup, got %s", cfg.Notify.NATSSubject)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BACKUP_DIR", "/app/elsewhere")
	t.Setenv("BACKUP_ENCRYPTION_MODE", "  RAW ")
	t.Setenv("BACKUP_KEEP", "14")
	t.Setenv("BACKUP_RETRY_ATTEMPTS", "5")
	t.Setenv("BACKUP_RETRY_BASE_DELAY", "500ms")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("BW_CMD", "/usr/local/bin/bw")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Backup.Dir != "/app/elsewhere" {
		t.Errorf("expected dir /app/elsewhere, got %s", cfg.Backup.Dir)
	}
	if cfg.Backup.Mode != "raw" {
		t.Errorf("expected normalized mode raw, got %q", cfg.Backup.Mode)
	}
	if cfg.Backup.Keep != 14 || cfg.Retry.Attempts != 5 || cfg.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("unexpected numeric overrides %+v %+v", cfg.Backup, cfg.Retry)
	}
	if cfg.Notify.TelegramChatID != -100123 {
		t.Errorf("expected chat id -100123, got %d", cfg.Notify.TelegramChatID)
	}
	if cfg.Bitwarden.Command != "/usr/local/bin/bw" {
		t.Errorf("expected command override, got %s", cfg.Bitwarden.Command)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bwbackup.yaml")
	yaml := `
bitwarden:
  server: "https://yaml.example.com"
  client_id: "${TEST_CLIENT_ID}"
backup:
  mode: raw
  keep: 7
  schedule: "0 3 * * *"
retry:
  attempts: 4
  max_delay: 1m
notify:
  nats_url: nats://localhost:4222
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, cfgPath)
	t.Setenv("TEST_CLIENT_ID", "from-env-expansion")
	t.Setenv("BW_SERVER", "https://env-wins.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bitwarden.ClientID != "from-env-expansion" {
		t.Errorf("expected expanded client id, got %s", cfg.Bitwarden.ClientID)
	}
	if cfg.Bitwarden.Server != "https://env-wins.example.com" {
		t.Errorf("env should override yaml, got %s", cfg.Bitwarden.Server)
	}
	if cfg.Backup.Keep != 7 || cfg.Backup.Schedule != "0 3 * * *" {
		t.Errorf("unexpected backup section %+v", cfg.Backup)
	}
	if cfg.Retry.Attempts != 4 || cfg.Retry.MaxDelay != time.Minute || cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("unexpected retry section %+v", cfg.Retry)
	}
	if cfg.Backup.Dir != "/app/backups" {
		t.Errorf("unset yaml keys should keep defaults, got %s", cfg.Backup.Dir)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte("backup: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, cfgPath)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInvalidNumbers(t *testing.T) {
	for _, name := range []string{"BACKUP_KEEP", "BACKUP_RETRY_ATTEMPTS", "TELEGRAM_CHAT_ID", "BACKUP_RETRY_MAX_DELAY"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(EnvConfigPath, "/nonexistent/bwbackup.yaml")
			t.Setenv(name, "not-a-number")
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), name) {
				t.Errorf("expected error naming %s, got %v", name, err)
			}
		})
	}
}

func TestValidateMissing(t *testing.T) {
	setRequired(t)
	t.Setenv("BW_FILE_PASSWORD", "")
	t.Setenv("BW_SERVER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Validate()
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("expected ErrMissingEnv, got %v", err)
	}
	for _, name := range []string{"BW_SERVER", "BW_FILE_PASSWORD"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestValidateEmailLogin(t *testing.T) {
	setRequired(t)
	t.Setenv("BW_CLIENT_ID", "")
	t.Setenv("BW_CLIENT_SECRET", "")
	t.Setenv("BW_EMAIL", "me@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("email login should not need an API key: %v", err)
	}
}

func TestValidateMode(t *testing.T) {
	tests := []struct {
		mode    string
		wantErr bool
	}{
		{"raw", false},
		{"bitwarden", false},
		{"Bitwarden\t", false},
		{"none", true},
		{"raw bitwarden", true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			setRequired(t)
			t.Setenv("BACKUP_ENCRYPTION_MODE", tt.mode)
			cfg, err := Load()
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.Validate()
			if tt.wantErr != errors.Is(err, ErrInvalidMode) {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuditKey(t *testing.T) {
	cfg := defaults()
	if cfg.AuditKey() != nil {
		t.Error("expected nil key without passwords")
	}
	cfg.Backup.FilePassword = "file"
	if string(cfg.AuditKey()) != "file" {
		t.Error("expected fallback to file password")
	}
	cfg.Audit.Key = "dedicated"
	if string(cfg.AuditKey()) != "dedicated" {
		t.Error("expected dedicated audit key")
	}
}
