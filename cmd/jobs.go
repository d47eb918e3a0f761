package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/jobtrack/internal/formatter"
	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/services"
	"github.com/desertthunder/jobtrack/internal/shared"
	"github.com/desertthunder/jobtrack/internal/tracker"
	"github.com/desertthunder/jobtrack/internal/ui"
)

const tuiLogPath = "./tmp/jobtrack-tui.log"

// JobsSubmit uploads a file and optionally follows the new job.
func (r *Runner) JobsSubmit(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: file path", shared.ErrMissingArgument)
	}
	if err := r.requireLogin(); err != nil {
		return err
	}

	opts, err := services.LoadSubmitFile(path)
	if err != nil {
		return err
	}
	opts.FileType = cmd.String("file-type")
	opts.Delimiter = cmd.String("delimiter")
	opts.DateFormat = cmd.String("date-format")
	opts.WebhookURL = cmd.String("webhook-url")
	opts.IdempotencyKey = cmd.String("idempotency-key")

	r.logger.Info("submitting job", "file", opts.FileName, "bytes", len(opts.Content))
	resp, err := r.api.SubmitJob(ctx, opts)
	if err != nil {
		return err
	}

	if err := r.history.RecordSubmitted(opts.FileName, *resp); err != nil {
		r.logger.Warn("job submitted but not saved to history", "job", resp.JobID, "error", err)
	}

	r.writePlain("✓ Job %s %s (max %d rows)\n", resp.JobID, resp.Status, resp.Limits.MaxRows)

	if cmd.Bool("watch") || cmd.Bool("tui") {
		return r.watch(ctx, resp.JobID, cmd.Bool("tui"), "")
	}
	r.writePlain("Run 'jobtrack jobs watch %s' to follow it\n", resp.JobID)
	return nil
}

// JobsStatus prints a single snapshot of a job.
func (r *Runner) JobsStatus(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.StringArg("id")
	if jobID == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}
	if err := r.requireLogin(); err != nil {
		return err
	}

	job, err := r.api.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		if err := r.history.RecordSnapshot(*job); err != nil {
			r.logger.Warn("failed to update history", "job", jobID, "error", err)
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(job, cmd.Bool("pretty"))
	}

	r.writePlain("%s\n", formatter.JobLine(*job))
	if job.Links != nil {
		r.writePlain("results: %s\nerrors:  %s\n", job.Links.Results, job.Links.Errors)
	}
	return nil
}

// JobsWatch follows a job until it reaches a terminal status.
func (r *Runner) JobsWatch(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.StringArg("id")
	if jobID == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}
	if err := r.requireLogin(); err != nil {
		return err
	}
	return r.watch(ctx, jobID, cmd.Bool("tui"), cmd.String("metrics-addr"))
}

// JobsCancel stops a running job.
func (r *Runner) JobsCancel(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.StringArg("id")
	if jobID == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}
	if err := r.requireLogin(); err != nil {
		return err
	}

	job, err := r.api.CancelJob(ctx, jobID)
	if errors.Is(err, shared.ErrJobFinished) {
		return r.writePlain("Job %s already finished\n", jobID)
	}
	if err != nil {
		return err
	}

	if err := r.history.RecordSnapshot(*job); err != nil {
		r.logger.Warn("failed to update history", "job", jobID, "error", err)
	}
	return r.writePlain("✓ %s\n", formatter.JobLine(*job))
}

// JobsDownload saves the results or errors report of a finished job.
func (r *Runner) JobsDownload(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.StringArg("id")
	if jobID == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}
	kind := services.ReportKind(cmd.String("kind"))
	if kind != services.ReportResults && kind != services.ReportErrors {
		return fmt.Errorf("%w: --kind must be results or errors", shared.ErrInvalidArgument)
	}
	if err := r.requireLogin(); err != nil {
		return err
	}

	data, err := r.api.Download(ctx, jobID, kind)
	if err != nil {
		return err
	}

	path, err := formatter.WriteReport(jobID, kind, data, cmd.String("dir"), cmd.String("output"))
	if err != nil {
		return err
	}

	r.logger.Info("report saved", "job", jobID, "kind", kind, "path", path)
	return r.writePlain("✓ Saved %s report to %s (%d bytes)\n", kind, path, len(data))
}

// JobsHistory lists locally recorded jobs as a table, an export file or an interactive list.
func (r *Runner) JobsHistory(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(); err != nil {
		return err
	}

	records, err := r.jobs.List(map[string]any{
		"status": cmd.String("status"),
		"limit":  int(cmd.Int("limit")),
	})
	if err != nil {
		return err
	}

	switch {
	case cmd.Bool("export"):
		path, err := formatter.WriteHistoryExport(records, cmd.String("output"), cmd.String("format"))
		if err != nil {
			return err
		}
		return r.writePlain("✓ Exported %d jobs to %s\n", len(records), path)

	case cmd.Bool("tui"):
		if err := r.requireLogin(); err != nil {
			return err
		}
		return r.runTUI(ctx, func(engine *tracker.Engine) *ui.Model {
			return ui.NewHistoryModel(ctx, engine, records)
		})
	}

	if len(records) == 0 {
		return r.writePlain("No jobs yet. Submit one with 'jobtrack jobs submit <file>'\n")
	}
	return r.writePlain("%s\n", formatter.HistoryTable(records))
}

// watch follows jobID in the TUI or as plain progress lines.
func (r *Runner) watch(ctx context.Context, jobID string, interactive bool, metricsAddr string) error {
	if metricsAddr != "" {
		stop := r.serveMetrics(ctx, metricsAddr)
		defer stop()
	}

	if interactive {
		return r.runTUI(ctx, func(engine *tracker.Engine) *ui.Model {
			return ui.NewWatchModel(ctx, engine, jobID)
		})
	}

	engine, err := r.newEngine(r.logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	return r.follow(ctx, engine, jobID)
}

// follow prints every update for jobID until its session settles.
func (r *Runner) follow(ctx context.Context, engine *tracker.Engine, jobID string) error {
	var (
		mu      sync.Mutex
		last    *models.Job
		lastErr error
	)

	err := engine.Track(jobID,
		func(job models.Job) {
			mu.Lock()
			last, lastErr = &job, nil
			mu.Unlock()
			r.writePlain("%s\n", formatter.JobLine(job))
		},
		func(err error) {
			mu.Lock()
			lastErr = err
			mu.Unlock()
			r.logger.Warn("tracking", "job", jobID, "error", shared.Describe(err))
		},
	)
	if err != nil {
		return err
	}
	defer engine.Untrack(jobID)

	if err := engine.Wait(ctx, jobID); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	if last == nil || !last.Status.IsTerminal() {
		if lastErr != nil {
			return lastErr
		}
		return fmt.Errorf("%w: tracking of %s ended early", shared.ErrStreamClosed, jobID)
	}

	if last.Status == models.StatusCompleted && last.Links != nil {
		r.writePlain("✓ Job complete\nresults: %s\nerrors:  %s\n", last.Links.Results, last.Links.Errors)
	}
	return nil
}

// runTUI starts a bubbletea program. Logs go to a file so they do not tear the screen.
func (r *Runner) runTUI(ctx context.Context, build func(*tracker.Engine) *ui.Model) error {
	logger, closer, err := shared.NewFileLogger(tuiLogPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	engine, err := r.newEngine(logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	model := build(engine)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI failed: %w", err)
	}

	if job := model.Job(); job != nil {
		r.writePlain("%s\n", formatter.JobLine(*job))
	}
	return model.Err()
}

// serveMetrics exposes the tracker registry on addr until the returned func is called.
func (r *Runner) serveMetrics(ctx context.Context, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		r.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Warn("metrics server stopped", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
