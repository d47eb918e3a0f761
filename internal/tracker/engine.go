package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/jobtrack/internal/jobcache"
	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// Defaults used when the tracking config leaves a value unset.
const (
	// DefaultReconnectDelay is the wait before each push reconnect.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultReconnectAttempts is how many reconnects follow consecutive push failures before polling.
	DefaultReconnectAttempts = 3
	// DefaultPollInterval is the snapshot period once polling has taken over.
	DefaultPollInterval = 2 * time.Second
)

var (
	// ErrAlreadyTracked is returned by [Engine.Track] while the job has a running session.
	ErrAlreadyTracked = fmt.Errorf("job is already tracked")
	// ErrEngineClosed is returned by [Engine.Track] after [Engine.Close].
	ErrEngineClosed = fmt.Errorf("tracking engine closed")
)

// Fetcher loads a full job snapshot. [services.Client] implements it.
type Fetcher interface {
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
}

// Subscriber opens a push channel of deltas for one job and blocks until ctx
// is done or the channel fails.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string, deliver func(models.Delta)) error
}

// Recorder persists the last state of a settled job. Its errors are logged and ignored.
type Recorder interface {
	RecordSnapshot(job models.Job) error
}

// State is the phase of one tracking session.
type State int32

// Session phases, in the order a session moves through them.
const (
	StateIdle State = iota
	StateSnapshotting
	StateLive
	StatePolling
	StateSettled
)

// String returns the lowercase phase name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSnapshotting:
		return "snapshotting"
	case StateLive:
		return "live"
	case StatePolling:
		return "polling"
	case StateSettled:
		return "settled"
	default:
		return ""
	}
}

// Option configures an [Engine].
type Option func(*Engine)

// WithPush sets the push channel. Without one, sessions poll from the start.
func WithPush(s Subscriber) Option {
	return func(e *Engine) { e.push = s }
}

// WithReconnect sets the delay between push reconnects and how many
// reconnects follow consecutive failures before polling takes over.
func WithReconnect(delay time.Duration, attempts int) Option {
	return func(e *Engine) {
		if delay > 0 {
			e.reconnectDelay = delay
		}
		if attempts >= 0 {
			e.reconnectAttempts = attempts
		}
	}
}

// WithPollInterval sets the polling period.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithCache shares c with the engine. Each job id is written only by its own session.
func WithCache(c *jobcache.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithRecorder persists the last state of every session that settles.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics reports session and update counters to m. A nil m disables them.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the parent logger. Sessions log under component=tracker.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = shared.WithLogger(l, "component", "tracker")
		}
	}
}

// FromConfig turns the tracking section of the config into options.
// Push is left to the caller since it needs a client.
func FromConfig(cfg shared.TrackingConfig) []Option {
	opts := []Option{
		WithReconnect(cfg.ReconnectDelay, cfg.ReconnectAttempts),
		WithPollInterval(cfg.PollInterval),
	}
	if cfg.CacheTTL > 0 {
		opts = append(opts, WithCache(jobcache.New(cfg.CacheTTL)))
	}
	return opts
}

// Engine tracks any number of jobs, one session per job id.
type Engine struct {
	fetch             Fetcher
	push              Subscriber
	cache             *jobcache.Cache
	recorder          Recorder
	metrics           *Metrics
	logger            *log.Logger
	reconnectDelay    time.Duration
	reconnectAttempts int
	pollInterval      time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewEngine creates an Engine that loads snapshots with fetch.
func NewEngine(fetch Fetcher, opts ...Option) *Engine {
	e := &Engine{
		fetch:             fetch,
		cache:             jobcache.New(jobcache.DefaultTTL),
		logger:            shared.WithLogger(log.Default(), "component", "tracker"),
		reconnectDelay:    DefaultReconnectDelay,
		reconnectAttempts: DefaultReconnectAttempts,
		pollInterval:      DefaultPollInterval,
		sessions:          make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Track starts a tracking session for jobID.
//
// onUpdate receives every reconciled state of the job, in order, and onError
// every error the session surfaces. Both run on the session's goroutine and
// may call [Engine.Cancel]. A job that settled may be tracked again; a job
// with a running session may not. When the previous session was cancelled but
// has not exited yet, Track waits for it first.
func (e *Engine) Track(jobID string, onUpdate func(models.Job), onError func(error)) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}
	if onUpdate == nil {
		onUpdate = func(models.Job) {}
	}
	if onError == nil {
		onError = func(error) {}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if e.closed {
			return ErrEngineClosed
		}
		prev, ok := e.sessions[jobID]
		if !ok {
			break
		}
		if !prev.ending() {
			return fmt.Errorf("%w: %s", ErrAlreadyTracked, jobID)
		}
		e.mu.Unlock()
		<-prev.done
		e.mu.Lock()
	}

	var cached *models.Job
	if job, ok := e.cache.Get(jobID); ok {
		cached = &job
	}

	s := newSession(e, jobID, onUpdate, onError)
	e.sessions[jobID] = s
	e.metrics.sessionStarted()
	go s.run(cached)

	e.logger.Debug("tracking started", "job", jobID, "cached", cached != nil)
	return nil
}

// Untrack stops the session for jobID and waits until it has exited, including
// a callback that is running. Its timers and channels are released when Untrack
// returns. Calling it for an unknown or already stopped job does nothing.
//
// A session's own callbacks must use [Engine.Cancel] instead.
func (e *Engine) Untrack(jobID string) {
	if s := e.lookup(jobID); s != nil {
		s.stop()
	}
}

// Cancel stops the session for jobID without waiting for it. No callback for
// it starts after Cancel returns.
func (e *Engine) Cancel(jobID string) {
	if s := e.lookup(jobID); s != nil {
		s.cancel()
	}
}

// Wait blocks until the session for jobID exits or ctx is done. It returns
// nil at once when the job has no session.
func (e *Engine) Wait(ctx context.Context, jobID string) error {
	s := e.lookup(jobID)
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) lookup(jobID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[jobID]
}

// forget drops s from the session table unless a newer session owns the id.
func (e *Engine) forget(s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[s.jobID] == s {
		delete(e.sessions, s.jobID)
	}
}

// State reports the phase of jobID's session, or [StateIdle] when it has none.
// A session leaves the table when it exits, so a job that settled soon reads as idle.
func (e *Engine) State(jobID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[jobID]; ok {
		return s.State()
	}
	return StateIdle
}

// Tracking returns the ids of sessions that are still running.
func (e *Engine) Tracking() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id, s := range e.sessions {
		if !s.ending() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close stops every session and waits for them to exit. Track fails afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}
