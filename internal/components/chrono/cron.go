package chrono

import (
	"context"
	"discuz-signin/internal/components/telemetry"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronAPI schedules jobs on standard 5 field cron expressions.
type CronAPI interface {
	Cron(spec string, callback func()) error
	// Next is when the earliest job fires next, zero when nothing is scheduled.
	Next() time.Time
	// Stop stops scheduling, the returned context is done once running jobs return.
	Stop() context.Context
}

// StandardCron runs jobs with `github.com/robfig/cron/v3` in the clock's
// location. A job still running when its next tick fires skips that tick.
type StandardCron struct {
	cron *cron.Cron
}

func NewStandardCron(tel telemetry.API, clock API) StandardCron {
	logger := cronLogger{tel: tel}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(clock.Location()),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Start()
	return StandardCron{cron: c}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	_, err := s.cron.AddFunc(spec, callback)
	return err
}

func (s StandardCron) Next() time.Time {
	var next time.Time
	for _, entry := range s.cron.Entries() {
		if entry.Next.IsZero() {
			continue
		}
		if next.IsZero() || entry.Next.Before(next) {
			next = entry.Next
		}
	}
	return next
}

func (s StandardCron) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger forwards the scheduler's own logs, its chatter is debug level.
type cronLogger struct {
	tel telemetry.API
}

func pairs(keysAndValues []any) string {
	var out strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if out.Len() > 0 {
			out.WriteByte(' ')
		}
		fmt.Fprintf(&out, "%v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return out.String()
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug("cron: "+msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken("cron", fmt.Errorf("%s: %w", msg, err), pairs(keysAndValues))
}
