package commands

import (
	"context"
	"discuz-signin/internal/components/chrono"
	"discuz-signin/lib/telemetry"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newScheduleCmd(load func() (*app, error)) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "schedule [--cron <expression>]",
		Short: "Runs the check-in on a cron schedule until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			err = a.cfg.RequireCredentials()
			if err != nil {
				return err
			}
			if spec != "" {
				a.cfg.Schedule.Cron = spec
			}
			return a.withTelemetry(cmd.Context(), a.schedule)
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "Overrides schedule.cron, a standard 5 field cron expression.")
	return cmd
}

func (a *app) schedule(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner, closeRunner, err := a.newRunner()
	if err != nil {
		return err
	}
	defer closeRunner()

	location, err := chrono.NewStandardImpl(a.cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	interval, err := parseDuration("schedule.perf_stats_interval", a.cfg.Schedule.PerfStatsInterval)
	if err != nil {
		return err
	}
	if interval > 0 {
		telemetry.InstrumentPerfStats(ctx, interval, a.logger)
	}

	cron := chrono.NewStandardCron(a.tel, location)
	err = cron.Cron(a.cfg.Schedule.Cron, func() {
		report, err := runner.Run(ctx)
		if err != nil {
			a.logger.Error("scheduled run failed", "run", report.RunId, "err", err)
			return
		}
		a.logger.Info(
			"scheduled run complete",
			"run", report.RunId,
			"signin_ok", report.SigninOk,
			"visits", report.Visits,
			"next", cron.Next().Format(time.DateTime),
		)
	})
	if err != nil {
		<-cron.Stop().Done()
		return fmt.Errorf("schedule.cron: %w", err)
	}

	a.logger.Info(
		"scheduler started",
		"cron", a.cfg.Schedule.Cron,
		"timezone", a.cfg.Schedule.Timezone,
		"next", cron.Next().Format(time.DateTime),
	)
	<-ctx.Done()
	a.logger.Info("stopping scheduler, waiting for a running check-in to finish")
	<-cron.Stop().Done()
	return nil
}
