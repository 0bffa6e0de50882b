package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/hangar/internal/config"
	"github.com/zulandar/hangar/internal/db"
	"github.com/zulandar/hangar/internal/deploy"
	"github.com/zulandar/hangar/internal/logbuf"
	"github.com/zulandar/hangar/internal/logging"
	"github.com/zulandar/hangar/internal/notify"
	"github.com/zulandar/hangar/internal/registry"
	"github.com/zulandar/hangar/internal/schedule"
	"github.com/zulandar/hangar/internal/source"
	"github.com/zulandar/hangar/internal/status"
	"github.com/zulandar/hangar/internal/supervisor"
	"github.com/zulandar/hangar/internal/workspace"
)

const (
	notifyQueueSize = 64
	shutdownTimeout = 30 * time.Second
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		logFile    string
		noStart    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor",
		Long: `Runs the supervisor in the foreground. On startup it reconciles stale
status records, deploys every autostart worker and arms the configured
schedules. SIGHUP reloads the config: workers dropped from it are stopped
and removed, the rest are redefined and restarted, and schedules are
rebuilt. SIGINT or SIGTERM stops every worker and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(cmd, configPath, logFile, noStart)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Hangar config file")
	cmd.Flags().StringVar(&logFile, "log-file", "", "also write supervisor logs to this file")
	cmd.Flags().BoolVar(&noStart, "no-autostart", false, "do not deploy autostart workers on startup")
	return cmd
}

func runSupervisor(cmd *cobra.Command, configPath, logFile string, noStart bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	logger, closeLog, err := logging.New(logging.Options{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
		Color: cfg.Log.Color,
		Out:   cmd.OutOrStdout(),
		Err:   cmd.ErrOrStderr(),
		File:  logFile,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	if err := migrate(gormDB, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDaemon(cfg, status.NewGormStore(gormDB, cfg.SnapshotLines), logger)
	if err != nil {
		return err
	}
	sup := d.sup

	n, err := sup.Reconcile(ctx)
	if err != nil {
		logger.Warn("reconcile failed", slog.Any("error", err))
	} else if n > 0 {
		logger.Info("reconciled stale workers", slog.Int("count", n))
	}

	for _, wc := range cfg.Workers {
		sup.Define(wc.Worker())
	}

	d.sched, err = buildScheduler(cfg, sup, logger)
	if err != nil {
		return err
	}
	d.sched.Start(ctx)

	if !noStart {
		autostart(ctx, cfg, sup, logger)
	}

	logger.Info("supervisor running",
		slog.Int("workers", len(cfg.Workers)),
		slog.Int("schedules", len(d.sched.Entries())),
		slog.String("database", cfg.Database.Driver))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-hup:
			logger.Info("SIGHUP received, reloading config")
			d.reload(ctx, configPath)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := d.sched.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	sup.Shutdown(shutdownCtx)
	if err := d.queue.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("flush notifications: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("shutdown incomplete", slog.Any("error", err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Hangar stopped.")
	return nil
}

// daemon holds the long-lived pieces of a running supervisor.
type daemon struct {
	sup    *supervisor.Supervisor
	logs   *logbuf.Store
	queue  *notify.Queue
	sched  *schedule.Scheduler
	logger *slog.Logger
}

// buildDaemon wires the supervisor's collaborators from cfg. The scheduler
// is left for the caller, since it needs the worker definitions first.
func buildDaemon(cfg *config.Config, store status.ReadWriter, logger *slog.Logger) (*daemon, error) {
	ws, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	logs := logbuf.New(cfg.LogLines)

	pipeline, err := deploy.New(deploy.Opts{
		Workspace:      ws,
		Fetcher:        source.New(source.Opts{GitHubToken: cfg.GitHub.Token}),
		Logs:           logs,
		Runtimes:       cfg.RuntimeSet(),
		InstallTimeout: cfg.InstallTimeout.Std(),
		Logger:         logger.With(slog.String("component", "deploy")),
	})
	if err != nil {
		return nil, err
	}

	notifiers, err := buildNotifiers(cfg)
	if err != nil {
		return nil, err
	}
	queue := notify.NewQueue(notifiers, notifyQueueSize, logger.With(slog.String("component", "notify")))

	sup, err := supervisor.New(supervisor.Opts{
		Pipeline:      pipeline,
		Registry:      registry.New(),
		Logs:          logs,
		Store:         store,
		Notifier:      queue,
		Logger:        logger.With(slog.String("component", "supervisor")),
		StopTimeout:   cfg.StopTimeout.Std(),
		SnapshotLines: cfg.SnapshotLines,
	})
	if err != nil {
		return nil, err
	}
	return &daemon{sup: sup, logs: logs, queue: queue, logger: logger}, nil
}

// reload re-reads the config at path and applies it to the running fleet.
// A config that fails to load leaves everything as it was.
func (d *daemon) reload(ctx context.Context, path string) {
	cfg, err := config.Load(path)
	if err != nil {
		d.logger.Error("reload failed, keeping current config", slog.Any("error", err))
		return
	}
	sched, err := buildScheduler(cfg, d.sup, d.logger)
	if err != nil {
		d.logger.Error("reload failed, keeping current config", slog.Any("error", err))
		return
	}

	d.logs.SetCap(cfg.LogLines)
	keep := make(map[string]bool, len(cfg.Workers))
	for _, wc := range cfg.Workers {
		keep[wc.ID] = true
	}
	for _, id := range d.sup.Defined() {
		if !keep[id] {
			logResult(d.logger, id, "remove", d.sup.Remove(ctx, id))
		}
	}
	for _, wc := range cfg.Workers {
		d.sup.Define(wc.Worker())
	}
	restartAll(ctx, d.sup, d.logger)

	if d.sched != nil {
		stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := d.sched.Stop(stopCtx); err != nil {
			d.logger.Warn("stop old schedules", slog.Any("error", err))
		}
		cancel()
	}
	d.sched = sched
	d.sched.Start(ctx)
	d.logger.Info("config reloaded",
		slog.Int("workers", len(cfg.Workers)),
		slog.Int("schedules", len(sched.Entries())))
}

func buildNotifiers(cfg *config.Config) (notify.Multi, error) {
	var out notify.Multi
	if d := cfg.Notify.Discord; d.BotToken != "" {
		n, err := notify.NewDiscord(notify.DiscordOpts{BotToken: d.BotToken, ChannelID: d.ChannelID})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if s := cfg.Notify.Slack; s.Token != "" {
		n, err := notify.NewSlack(notify.SlackOpts{Token: s.Token, ChannelID: s.ChannelID})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func buildScheduler(cfg *config.Config, sup *supervisor.Supervisor, logger *slog.Logger) (*schedule.Scheduler, error) {
	sched := schedule.New(sup, logger.With(slog.String("component", "schedule")))
	for _, wc := range cfg.Workers {
		for _, sc := range wc.Schedule {
			job := schedule.Job{WorkerID: wc.ID, Spec: sc.Cron, Action: sc.Action, Command: sc.Command}
			if _, err := sched.Add(job); err != nil {
				return nil, fmt.Errorf("worker %s: %w", wc.ID, err)
			}
		}
	}
	return sched, nil
}

// autostart deploys every autostart worker concurrently and logs each
// outcome as it arrives.
func autostart(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor, logger *slog.Logger) {
	for _, wc := range cfg.Workers {
		if !wc.AutostartEnabled() {
			continue
		}
		id := wc.ID
		results := sup.DeployAsync(ctx, wc.Worker())
		go func() {
			for r := range results {
				logResult(logger, id, "deploy", r)
			}
		}()
	}
}

func restartAll(ctx context.Context, sup *supervisor.Supervisor, logger *slog.Logger) {
	for _, id := range sup.Defined() {
		r := sup.Do(ctx, supervisor.Request{WorkerID: id, Action: supervisor.ActionRestart})
		logResult(logger, id, supervisor.ActionRestart, r)
	}
}

func logResult(logger *slog.Logger, id, action string, r supervisor.Result) {
	attrs := []any{slog.String("worker", id), slog.String("action", action), slog.String("status", r.Status)}
	if !r.Success {
		logger.Error(r.Message, attrs...)
		return
	}
	logger.Info(r.Message, attrs...)
}
