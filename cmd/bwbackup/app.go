package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/forest6511/bwbackup/internal/notify"
	"github.com/forest6511/bwbackup/pkg/audit"
	"github.com/forest6511/bwbackup/pkg/backup"
	"github.com/forest6511/bwbackup/pkg/bitwarden"
	"github.com/forest6511/bwbackup/pkg/history"
	"github.com/forest6511/bwbackup/pkg/retry"
	"github.com/forest6511/bwbackup/pkg/runner"
)

// app bundles the long-lived collaborators of a backup run.
type app struct {
	history  *history.Store
	audit    *audit.Logger
	manager  *backup.Manager
	notifier notify.Notifier
	closers  []func()
}

// newApp opens history and the audit log. Both are optional: a failure to
// open one is logged and the run continues without it.
func newApp(source string) *app {
	a := &app{}

	if cfg.History.DSN != "" {
		store, err := history.Open(cfg.History.DSN)
		if err != nil {
			logger.Warn("history disabled", zap.Error(err))
		} else {
			a.history = store
			a.closers = append(a.closers, func() { _ = store.Close() })
		}
	}

	if key := cfg.AuditKey(); cfg.Audit.Dir != "" && key != nil {
		l := audit.NewLogger(cfg.Audit.Dir, source)
		if err := l.SetKey(key); err != nil {
			logger.Warn("audit log disabled", zap.Error(err))
		} else {
			a.audit = l
		}
	}

	opts := []backup.ManagerOption{backup.WithLogger(logger), backup.WithAudit(a.audit)}
	if a.history != nil {
		opts = append(opts, backup.WithHistory(a.history))
	}
	a.manager = backup.NewManager(opts...)
	return a
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// withNotifiers connects the configured NATS and Telegram notifiers.
func (a *app) withNotifiers() error {
	var multi notify.Multi
	if cfg.Notify.NATSURL != "" {
		p, err := notify.NewNATSPublisher(cfg.Notify.NATSURL, cfg.Notify.NATSSubject)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, p.Close)
		multi = append(multi, p)
	}
	if cfg.Notify.TelegramToken != "" {
		if cfg.Notify.TelegramChatID == 0 {
			return errors.New("TELEGRAM_CHAT_ID is required with TELEGRAM_TOKEN")
		}
		t, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.TelegramAlways)
		if err != nil {
			return err
		}
		multi = append(multi, t)
	}
	if len(multi) > 0 {
		a.notifier = multi
	}
	return nil
}

func newSession() *bitwarden.Session {
	inv := runner.New(cfg.Bitwarden.Command, runner.WithLogger(logger))
	creds := bitwarden.Credentials{
		ClientID:     cfg.Bitwarden.ClientID,
		ClientSecret: cfg.Bitwarden.ClientSecret,
		Email:        cfg.Bitwarden.Email,
		Password:     cfg.Bitwarden.Password,
	}
	// Email login skips the API key even when one is configured.
	if cfg.Bitwarden.Email != "" {
		creds.ClientID, creds.ClientSecret = "", ""
	}
	if cfg.Backup.FilePassword != "" {
		inv.AddSecret("BW_FILE_PASSWORD", cfg.Backup.FilePassword)
	}
	return bitwarden.New(inv, creds, bitwarden.Options{
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.Attempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Logger: logger,
	})
}

// runBackup performs one complete backup: configure the server, run the
// pipeline, notify and prune.
func (a *app) runBackup(ctx context.Context) (*backup.Result, error) {
	session := newSession()
	if err := session.ConfigureServer(ctx, cfg.Bitwarden.Server); err != nil {
		return nil, fmt.Errorf("failed to configure server: %w", err)
	}
	// A run that crashed may have left the CLI logged in, which makes the
	// next login fail.
	if st, err := session.Status(ctx); err != nil {
		logger.Warn("could not query CLI status", zap.Error(err))
	} else if st.Status != "unauthenticated" {
		logger.Warn("clearing stale CLI session", zap.String("status", st.Status))
		if err := session.Logout(ctx); err != nil {
			logger.Warn("stale session logout failed", zap.Error(err))
		}
	}

	res, err := a.manager.Run(ctx, session, backup.Options{
		Dir:            cfg.Backup.Dir,
		AllowedRoot:    cfg.Backup.AllowedRoot,
		Mode:           backup.Mode(cfg.Backup.Mode),
		MasterPassword: cfg.Bitwarden.Password,
		FilePassword:   cfg.Backup.FilePassword,
	})

	if a.notifier != nil {
		if nerr := a.notifier.Notify(context.WithoutCancel(ctx), notify.FromResult(res)); nerr != nil {
			logger.Warn("notification failed", zap.Error(nerr))
		}
	}
	if err != nil {
		return res, err
	}

	if cfg.Backup.Keep > 0 {
		if _, perr := a.manager.Prune(ctx, cfg.Backup.Dir, cfg.Backup.Keep); perr != nil {
			logger.Warn("prune failed", zap.Error(perr))
		}
	}
	return res, nil
}
