// Package config loads bwbackup settings: built-in defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/bwbackup/pkg/backup"
	"github.com/forest6511/bwbackup/pkg/security"
)

// EnvConfigPath names the YAML file to read.
const EnvConfigPath = "BWBACKUP_CONFIG"

// DefaultConfigPath is read when EnvConfigPath is unset. It may be absent.
const DefaultConfigPath = "/app/config/bwbackup.yaml"

var (
	// ErrMissingEnv is returned by Validate for a required setting left empty.
	ErrMissingEnv = errors.New("config: missing required setting")

	// ErrInvalidMode is returned for an encryption mode outside the whitelist.
	ErrInvalidMode = errors.New("config: invalid encryption mode")
)

type Config struct {
	Bitwarden BitwardenConfig `yaml:"bitwarden"`
	Backup    BackupConfig    `yaml:"backup"`
	Retry     RetryConfig     `yaml:"retry"`
	History   HistoryConfig   `yaml:"history"`
	Audit     AuditConfig     `yaml:"audit"`
	Notify    NotifyConfig    `yaml:"notify"`
	Status    StatusConfig    `yaml:"status"`
	Log       LogConfig       `yaml:"log"`
}

type BitwardenConfig struct {
	Command      string `yaml:"command"`
	Server       string `yaml:"server"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`
}

type BackupConfig struct {
	Dir          string `yaml:"dir"`
	AllowedRoot  string `yaml:"allowed_root"`
	Mode         string `yaml:"mode"`
	FilePassword string `yaml:"file_password"`
	Keep         int    `yaml:"keep"`
	Schedule     string `yaml:"schedule"`
}

type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

type HistoryConfig struct {
	DSN string `yaml:"dsn"`
}

type AuditConfig struct {
	Dir string `yaml:"dir"`
	// Key seeds the audit chain HMAC. Falls back to the file password.
	Key string `yaml:"key"`
}

type NotifyConfig struct {
	NATSURL        string `yaml:"nats_url"`
	NATSSubject    string `yaml:"nats_subject"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
	TelegramAlways bool   `yaml:"telegram_always"`
}

type StatusConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	File   string `yaml:"file"`
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Bitwarden: BitwardenConfig{
			Command: "bw",
		},
		Backup: BackupConfig{
			Dir:         "/app/backups",
			AllowedRoot: security.DefaultAllowedRoot,
			Mode:        string(backup.DefaultMode),
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: 2 * time.Second,
			MaxDelay:  30 * time.Second,
		},
		History: HistoryConfig{
			DSN: "/app/data/bwbackup.db",
		},
		Audit: AuditConfig{
			Dir: "/app/data/audit",
		},
		Notify: NotifyConfig{
			NATSSubject: "bwbackup",
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// Load builds the configuration. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"BW_CMD":                 &cfg.Bitwarden.Command,
		"BW_SERVER":              &cfg.Bitwarden.Server,
		"BW_CLIENT_ID":           &cfg.Bitwarden.ClientID,
		"BW_CLIENT_SECRET":       &cfg.Bitwarden.ClientSecret,
		"BW_EMAIL":               &cfg.Bitwarden.Email,
		"BW_PASSWORD":            &cfg.Bitwarden.Password,
		"BW_FILE_PASSWORD":       &cfg.Backup.FilePassword,
		"BACKUP_DIR":             &cfg.Backup.Dir,
		"BACKUP_ENCRYPTION_MODE": &cfg.Backup.Mode,
		"BACKUP_SCHEDULE":        &cfg.Backup.Schedule,
		"BACKUP_HISTORY_DB":      &cfg.History.DSN,
		"BACKUP_AUDIT_DIR":       &cfg.Audit.Dir,
		"BACKUP_AUDIT_KEY":       &cfg.Audit.Key,
		"BACKUP_NATS_URL":        &cfg.Notify.NATSURL,
		"BACKUP_NATS_SUBJECT":    &cfg.Notify.NATSSubject,
		"TELEGRAM_TOKEN":         &cfg.Notify.TelegramToken,
		"BACKUP_STATUS_LISTEN":   &cfg.Status.Listen,
		"LOG_FILE":               &cfg.Log.File,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Notify.TelegramChatID = id
	}
	if v := os.Getenv("BACKUP_KEEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: BACKUP_KEEP: %w", err)
		}
		cfg.Backup.Keep = n
	}
	if v := os.Getenv("BACKUP_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: BACKUP_RETRY_ATTEMPTS: %w", err)
		}
		cfg.Retry.Attempts = n
	}
	for name, dst := range map[string]*time.Duration{
		"BACKUP_RETRY_BASE_DELAY": &cfg.Retry.BaseDelay,
		"BACKUP_RETRY_MAX_DELAY":  &cfg.Retry.MaxDelay,
	} {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks what a backup run needs: vault credentials, a file
// password and a known encryption mode. The mode is normalized in place.
func (c *Config) Validate() error {
	var missing []string
	need := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}

	// Email login replaces the API key pair.
	if c.Bitwarden.Email == "" {
		need("BW_CLIENT_ID", c.Bitwarden.ClientID)
		need("BW_CLIENT_SECRET", c.Bitwarden.ClientSecret)
	}
	need("BW_PASSWORD", c.Bitwarden.Password)
	need("BW_SERVER", c.Bitwarden.Server)
	need("BW_FILE_PASSWORD", c.Backup.FilePassword)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	mode, err := backup.ParseMode(c.Backup.Mode)
	if err != nil {
		return fmt.Errorf("%w: %q (must be raw or bitwarden)", ErrInvalidMode, c.Backup.Mode)
	}
	c.Backup.Mode = string(mode)

	if c.Backup.Keep < 0 {
		return fmt.Errorf("config: backup.keep must not be negative")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("config: retry.attempts must be at least 1")
	}
	return nil
}

// AuditKey returns the key material for the audit chain, or nil when
// neither an audit key nor a file password is configured.
func (c *Config) AuditKey() []byte {
	if c.Audit.Key != "" {
		return []byte(c.Audit.Key)
	}
	if c.Backup.FilePassword != "" {
		return []byte(c.Backup.FilePassword)
	}
	return nil
}
