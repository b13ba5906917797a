// Package checkin performs one complete visit to the forum: find the host,
// log in, check in and browse a few profiles.
package checkin

import (
	"context"
	"discuz-signin/internal/components/assert"
	"discuz-signin/internal/components/chrono"
	"discuz-signin/internal/components/telemetry"
	"discuz-signin/internal/scrapers/discuz"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("checkin")

const (
	report_runner_run     = "runner.run"
	report_runner_publish = "runner.publish"
)

// Report summarizes a single run.
type Report struct {
	RunId          string
	Host           string
	Username       string
	LoggedIn       bool
	HasActionToken bool
	SigninStatus   int
	SigninOk       bool
	SigninBody     string
	Visits         int
	Credit         string
	Coins          string
	// Error is empty when the run succeeded.
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Report) Ok() bool {
	return r.Error == ""
}

// Sink receives every finished report. Failing sinks never fail the run.
type Sink interface {
	Publish(ctx context.Context, report Report) error
}

type SinkFunc func(ctx context.Context, report Report) error

func (f SinkFunc) Publish(ctx context.Context, report Report) error {
	return f(ctx, report)
}

type Options struct {
	// Client configures the forum session, its Hostname is the fallback used
	// when PubUrl is empty or cannot be read.
	Client discuz.Options
	PubUrl string
	// HostClient fetches the announcement page, it defaults to a plain resty client.
	HostClient *resty.Client
	Sinks      []Sink
	NewRunId   func() string
	Clock      chrono.API
	// PublishTimeout bounds each sink, sinks still run after the run's context
	// is cancelled.
	PublishTimeout time.Duration
}

type Runner struct {
	opts Options
	tel  telemetry.API
}

func NewRunner(opts Options, tel telemetry.API) Runner {
	assert.NotNil(tel, "telemetry")
	assert.NotEmptyStr(opts.Client.Hostname, "hostname")

	if opts.HostClient == nil {
		opts.HostClient = resty.New().SetTimeout(30 * time.Second)
	}
	if opts.Clock == nil {
		opts.Clock = chrono.NewStandardImplIn(time.UTC)
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 30 * time.Second
	}
	return Runner{
		opts: opts,
		tel:  telemetry.NewScopedAPI("checkin", tel),
	}
}

// Run always returns a report, the error is the reason the run stopped early.
func (r Runner) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	report := Report{
		Username:  r.opts.Client.Credentials.Username,
		StartedAt: r.opts.Clock.Now(),
	}
	if r.opts.NewRunId != nil {
		report.RunId = r.opts.NewRunId()
	}

	err := r.run(ctx, &report)
	report.FinishedAt = r.opts.Clock.Now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		report.Error = err.Error()
		r.tel.ReportBroken(report_runner_run, err, report.RunId)
	} else {
		r.tel.ReportInfo("run finished", report.RunId, report.FinishedAt.Sub(report.StartedAt).String())
	}

	r.publish(ctx, report)
	return report, err
}

func (r Runner) run(ctx context.Context, report *Report) error {
	host := discuz.ResolveHost(ctx, r.opts.HostClient, r.opts.PubUrl, r.opts.Client.Hostname, r.tel)
	report.Host = host

	clientOpts := r.opts.Client
	clientOpts.Hostname = host
	client, err := discuz.NewClient(clientOpts, r.tel)
	if err != nil {
		return err
	}

	client.WaitForChallenge(ctx)

	session, err := client.Login(ctx)
	if err != nil {
		return err
	}
	report.LoggedIn = true
	report.HasActionToken = session.ActionToken != ""
	report.Credit = session.Credit
	report.Coins = session.Coins
	r.tel.ReportInfo("login succeeded, formhash", session.ActionToken)
	if session.ActionToken == "" {
		r.tel.ReportWarning(report_runner_run, "logged in without an action token")
	}

	result := client.Signin(ctx, session.ActionToken)
	report.SigninStatus = result.Status
	report.SigninOk = result.Ok()
	report.SigninBody = result.Body

	visited, err := client.VisitHomes(ctx)
	report.Visits = len(visited)
	return err
}

func (r Runner) publish(ctx context.Context, report Report) {
	ctx = context.WithoutCancel(ctx)
	for _, sink := range r.opts.Sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, r.opts.PublishTimeout)
		err := sink.Publish(sinkCtx, report)
		cancel()
		if err != nil {
			r.tel.ReportWarning(report_runner_publish, err, report.RunId)
		}
	}
}
