package commands

import (
	"context"
	"discuz-signin/internal/checkin"
	"discuz-signin/internal/components/chrono"
	"discuz-signin/internal/history"
	"discuz-signin/internal/notify"
	"discuz-signin/internal/ocr"
	"discuz-signin/internal/scrapers/discuz"
	"discuz-signin/lib/restyutil"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

func newRunCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Logs in, checks in and visits profiles once. This is the default command.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), a)
		},
	}
}

func runOnce(ctx context.Context, a *app) error {
	err := a.cfg.RequireCredentials()
	if err != nil {
		return err
	}
	return a.withTelemetry(ctx, func(ctx context.Context) error {
		runner, closeRunner, err := a.newRunner()
		if err != nil {
			return err
		}
		defer closeRunner()

		report, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		a.logger.Info(
			"check-in run complete",
			"run", report.RunId,
			"host", report.Host,
			"signin_ok", report.SigninOk,
			"visits", report.Visits,
		)
		return nil
	})
}

// newRunner wires a checkin.Runner from the config, the returned func
// releases whatever sinks were opened.
func (a *app) newRunner() (checkin.Runner, func(), error) {
	cfg := a.cfg
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	clientOpts, err := a.clientOptions()
	if err != nil {
		return checkin.Runner{}, closeAll, err
	}

	var sinks []checkin.Sink
	if !cfg.History.Empty() {
		store, err := history.Open(context.Background(), cfg.History)
		if err != nil {
			return checkin.Runner{}, closeAll, fmt.Errorf("open history: %w", err)
		}
		closers = append(closers, func() { store.Close() })
		sinks = append(sinks, store)
	}
	if cfg.Notify.Enabled() {
		sinks = append(sinks, notify.NewMailer(cfg.Notify))
	}

	hostTimeout, err := parseDuration("forum.timeout", cfg.Forum.Timeout)
	if err != nil {
		closeAll()
		return checkin.Runner{}, func() {}, err
	}

	runner := checkin.NewRunner(checkin.Options{
		Client:     clientOpts,
		PubUrl:     cfg.Forum.PubUrl,
		HostClient: resty.New().SetTimeout(hostTimeout),
		Sinks:      sinks,
		NewRunId:   history.NewRunId,
		Clock:      clientOpts.Clock,
	}, a.tel)
	return runner, closeAll, nil
}

func (a *app) clientOptions() (discuz.Options, error) {
	cfg := a.cfg

	pacing, err := cfg.Pacing.parse()
	if err != nil {
		return discuz.Options{}, err
	}
	if pacing.TokenJitterMin > pacing.TokenJitterMax {
		return discuz.Options{}, fmt.Errorf("pacing: token_jitter_min is above token_jitter_max")
	}
	if cfg.Limits.VisitMinUid > cfg.Limits.VisitMaxUid {
		return discuz.Options{}, errors.New("limits: visit_min_uid is above visit_max_uid")
	}
	timeout, err := parseDuration("forum.timeout", cfg.Forum.Timeout)
	if err != nil {
		return discuz.Options{}, err
	}
	clock, err := chrono.NewStandardImpl(cfg.Schedule.Timezone)
	if err != nil {
		return discuz.Options{}, fmt.Errorf("schedule.timezone: %w", err)
	}

	var classifier ocr.Classifier
	if cfg.Ocr.ApiKey != "" {
		ocrTimeout, err := parseDuration("ocr.timeout", cfg.Ocr.Timeout)
		if err != nil {
			return discuz.Options{}, err
		}
		classifier, err = ocr.NewOpenAIClassifier(ocr.OpenAIOptions{
			APIKey:  cfg.Ocr.ApiKey,
			BaseURL: cfg.Ocr.BaseUrl,
			Model:   cfg.Ocr.Model,
			Timeout: ocrTimeout,
		}, a.tel)
		if err != nil {
			return discuz.Options{}, err
		}
	} else {
		a.logger.Warn("no OPENAI_API_KEY configured, logins that need a captcha will fail")
	}

	var dump restyutil.InstrumentOutput
	if cfg.Forum.DumpDir != "" {
		output, err := restyutil.NewFilesystemOutput(cfg.Forum.DumpDir, a.logger)
		if err != nil {
			return discuz.Options{}, fmt.Errorf("forum.dump_dir: %w", err)
		}
		dump = output
	}

	return discuz.Options{
		Hostname: cfg.Forum.Hostname,
		Scheme:   cfg.Forum.Scheme,
		Credentials: discuz.Credentials{
			Username:   cfg.Forum.Username,
			Password:   cfg.Forum.Password,
			QuestionID: cfg.Forum.QuestionId,
			Answer:     cfg.Forum.Answer,
		},
		Classifier:             classifier,
		Pacing:                 pacing,
		Limits:                 cfg.Limits.limits(),
		RateLimit:              cfg.Forum.RateLimit,
		Timeout:                timeout,
		DisableChallengeBypass: cfg.Forum.DisableChallengeBypass,
		Dump:                   dump,
		Clock:                  clock,
	}, nil
}
