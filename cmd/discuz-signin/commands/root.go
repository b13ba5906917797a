package commands

import (
	"context"
	comptelemetry "discuz-signin/internal/components/telemetry"
	"discuz-signin/lib/telemetry"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const serviceName = "discuz-signin"

// Environment is everything the commands read from the process.
type Environment struct {
	Getenv func(string) string
	Stdout io.Writer
	Stderr io.Writer
	// DotEnv files are loaded into the process environment first, missing
	// files are ignored.
	DotEnv []string
}

func ProcessEnvironment() Environment {
	return Environment{
		Getenv: os.Getenv,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		DotEnv: []string{".env"},
	}
}

// app is the state shared by every command once flags are parsed.
type app struct {
	env    Environment
	cfg    Config
	logger *slog.Logger
	tel    comptelemetry.API
}

type rootFlags struct {
	config   string
	logLevel string
}

func newApp(env Environment, flags *rootFlags) (*app, error) {
	for _, file := range env.DotEnv {
		err := godotenv.Load(file)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg, err := LoadConfig(flags.config, env.Getenv)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	logger, err := telemetry.NewLogger(env.Stderr, cfg.Log)
	if err != nil {
		return nil, err
	}
	return &app{
		env:    env,
		cfg:    cfg,
		logger: logger,
		tel:    comptelemetry.NewSlogAPI(logger),
	}, nil
}

// withTelemetry runs fn with the otlp providers configured, flushing them afterwards.
func (a *app) withTelemetry(ctx context.Context, fn func(ctx context.Context) error) error {
	otel, err := telemetry.Setup(ctx, serviceName, a.cfg.Telemetry)
	if err != nil {
		a.logger.Warn("failed to setup telemetry", "err", err)
	}
	if otel.Enabled() {
		defer func() {
			err := otel.Shutdown(context.WithoutCancel(ctx))
			if err != nil {
				a.logger.Warn("failed to flush telemetry", "err", err)
			}
		}()
	}
	return fn(ctx)
}

func newRootCmd(env Environment) *cobra.Command {
	flags := &rootFlags{}
	var current *app
	load := func() (*app, error) {
		if current != nil {
			return current, nil
		}
		a, err := newApp(env, flags)
		if err != nil {
			return nil, err
		}
		current = a
		return a, nil
	}

	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "discuz-signin logs into a discuz forum, checks in and visits a few member profiles.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), a)
		},
	}
	rootCmd.SetOut(env.Stdout)
	rootCmd.SetErr(env.Stderr)
	rootCmd.PersistentFlags().StringVar(&flags.config, "config", "config.json5", "The config file, a sibling <name>.local.json5 overrides it.")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Overrides the configured log level (debug, info, warn, error).")

	rootCmd.AddCommand(
		newRunCmd(load),
		newScheduleCmd(load),
		newHistoryCmd(load),
		newHostCmd(load),
	)
	return rootCmd
}

// Run executes the command line and returns the process exit status.
func Run(ctx context.Context, args []string, env Environment) int {
	rootCmd := newRootCmd(env)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(env.Stderr, "error:", err)
		return 1
	}
	return 0
}
