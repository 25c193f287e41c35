package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forest6511/bwbackup/internal/schedule"
	"github.com/forest6511/bwbackup/internal/status"
	"github.com/forest6511/bwbackup/pkg/audit"
)

var (
	daemonSchedule string
	daemonListen   string
	daemonRunNow   bool
)

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonSchedule, "schedule", "", "Cron expression (overrides BACKUP_SCHEDULE)")
	daemonCmd.Flags().StringVar(&daemonListen, "listen", "", "Status server address, e.g. :8080 (overrides BACKUP_STATUS_LISTEN)")
	daemonCmd.Flags().BoolVar(&daemonRunNow, "run-now", false, "Run one backup immediately before waiting for the schedule")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run backups on a cron schedule",
	Long: `Run backups on a cron schedule until SIGINT or SIGTERM. Runs never overlap.
After each run the configured notifiers are called and old backups are pruned
to BACKUP_KEEP. With --listen the run history is served over HTTP:

  GET /healthz
  GET /api/runs?limit=N
  GET /api/runs/latest

Example:
  bwbackup daemon --schedule "0 3 * * *" --listen :8080`,
	Args: cobra.NoArgs,
	RunE: executeDaemon,
}

func executeDaemon(cmd *cobra.Command, _ []string) error {
	if daemonSchedule != "" {
		cfg.Backup.Schedule = daemonSchedule
	}
	if daemonListen != "" {
		cfg.Status.Listen = daemonListen
	}
	if cfg.Backup.Schedule == "" {
		return errors.New("no schedule: set BACKUP_SCHEDULE or --schedule")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a := newApp(audit.SourceDaemon)
	defer a.close()
	if err := a.withNotifiers(); err != nil {
		return err
	}

	job := func(ctx context.Context) error {
		res, err := a.runBackup(ctx)
		if err != nil {
			return err
		}
		logger.Info("backup completed",
			zap.String("file", res.FileName),
			zap.Int64("size", res.Size),
			zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))
		return nil
	}
	sched, err := schedule.New(cfg.Backup.Schedule, job, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	statusErr := make(chan error, 1)
	if cfg.Status.Listen != "" {
		if a.history == nil {
			return errors.New("status server needs the history database")
		}
		go func() {
			statusErr <- status.Serve(ctx, cfg.Status.Listen, status.NewRouter(a.history, logger), logger)
		}()
	}

	if daemonRunNow {
		if err := job(ctx); err != nil {
			logger.Error("initial run failed", zap.Error(err))
		}
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	select {
	case err := <-schedDone:
		cancel()
		if cfg.Status.Listen != "" {
			<-statusErr
		}
		return err
	case err := <-statusErr:
		// The status server only returns early when it cannot listen.
		cancel()
		<-schedDone
		return err
	}
}
