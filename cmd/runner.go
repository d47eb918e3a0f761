package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/jobtrack/internal/repositories"
	"github.com/desertthunder/jobtrack/internal/services"
	"github.com/desertthunder/jobtrack/internal/session"
	"github.com/desertthunder/jobtrack/internal/shared"
	"github.com/desertthunder/jobtrack/internal/tracker"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, session manager and API clients are created on first use so that
// commands like setup and dev-server work without them.
type Runner struct {
	config     *shared.Config
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	registry   *prometheus.Registry
	metrics    *tracker.Metrics

	db       *sql.DB
	store    session.Store
	client   *services.Client
	auth     *services.AuthAPI
	sessions *session.Manager
	api      *services.Client
	jobs     *repositories.JobRepository
	history  *repositories.JobHistoryAdapter
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB       // opened from the config when nil
	Store      session.Store // chosen by session.store when nil
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		registry:   prometheus.NewRegistry(),
		db:         opts.DB,
		store:      opts.Store,
	}
}

// configure loads the config file named by --config and applies the global flags.
// A missing file keeps the defaults so that `setup config` can create it.
func (r *Runner) configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
	}

	if base := cmd.String("base-url"); base != "" {
		r.config.API.BaseURL = base
	}

	level := r.config.Log.Level
	if cmd.Bool("verbose") {
		level = "debug"
	}
	if ll, err := shared.ParseLogLevel(level); err != nil {
		r.logger.Warn("ignoring log level", "error", err)
	} else {
		shared.SetLogLevel(r.logger, ll)
	}
	return ctx, nil
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, jobsCommand, apiCommand, devServerCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// connect opens local state and builds the authorized client. It is safe to call more than once.
func (r *Runner) connect() error {
	if r.api != nil {
		return nil
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	if r.db == nil {
		db, err := shared.OpenDatabase(r.config.Database)
		if err != nil {
			return err
		}
		r.db = db
	}
	r.jobs = repositories.NewJobRepository(r.db)
	r.history = repositories.NewJobHistoryAdapter(r.jobs)

	if r.store == nil {
		switch r.config.Session.Store {
		case "keyring":
			r.store = session.NewKeyringStore(r.config.Session.KeyringService)
		default:
			r.store = repositories.NewSessionRepository(r.db)
		}
	}

	r.client = services.NewClient(r.config.API, nil,
		services.WithHTTPClient(r.httpClient),
		services.WithClientLogger(r.logger),
	)
	r.auth = services.NewAuthAPI(r.client)
	r.sessions = session.NewManager(r.auth, r.store,
		session.WithRefreshLead(r.config.Session.RefreshLead),
		session.WithLogger(r.logger),
		session.OnSessionEnded(func(err error) {
			r.logger.Warn("session ended, run `jobtrack auth login` to continue", "reason", shared.Describe(err))
		}),
	)
	if err := r.sessions.Init(); err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	r.api = r.client.WithCredentials(r.sessions)
	return nil
}

// requireLogin connects and fails early when no session is held.
func (r *Runner) requireLogin() error {
	if err := r.connect(); err != nil {
		return err
	}
	if !r.sessions.IsAuthenticated() {
		return fmt.Errorf("%w: run `jobtrack auth login` first", shared.ErrNotAuthenticated)
	}
	return nil
}

// newEngine builds a tracking engine from the [tracking] config section.
func (r *Runner) newEngine(logger *log.Logger) (*tracker.Engine, error) {
	if r.metrics == nil {
		metrics, err := tracker.NewMetrics(r.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		r.metrics = metrics
	}

	cfg := r.config.Tracking
	opts := append(tracker.FromConfig(cfg),
		tracker.WithRecorder(r.history),
		tracker.WithMetrics(r.metrics),
		tracker.WithLogger(logger),
	)
	if cfg.EnablePush {
		switch cfg.PushTransport {
		case "websocket":
			opts = append(opts, tracker.WithPush(r.api.WebSocket(0)))
		default:
			opts = append(opts, tracker.WithPush(r.api.Events(0)))
		}
	}
	return tracker.NewEngine(r.api, opts...), nil
}

// Close releases the session timer and the database.
func (r *Runner) Close() {
	if r.sessions != nil {
		r.sessions.Close()
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.Warn("failed to close database", "error", err)
		}
		r.db = nil
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
