package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/jobtrack/internal/shared"
)

const (
	envConfig  = "JOBTRACK_CONFIG"
	envBaseURL = "JOBTRACK_API_BASE_URL"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})
	app := newApp(runner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	runner.Close()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, shared.ErrNotImplemented):
		logger.Warn("not implemented")
	default:
		logger.Fatal(shared.Describe(err), "error", err)
	}
}

func newApp(runner *Runner) *cli.Command {
	return &cli.Command{
		Name:    "jobtrack",
		Usage:   "Submit batch import jobs and follow their status",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars(envConfig),
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Job service base URL, overrides api.base_url",
				Sources: cli.EnvVars(envBaseURL),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Before:   runner.configure,
		Commands: runner.register(),
	}
}
