package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/jobtrack/internal/services"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// Options tunes the backend. Zero values select the defaults noted per field.
type Options struct {
	SigningKey     []byte           // random per process
	TokenTTL       time.Duration    // 1h
	RefreshGrace   time.Duration    // 24h
	Rows           int              // 100 rows per job
	Step           int              // 5 rows per tick
	Tick           time.Duration    // 1s
	StartDelay     time.Duration    // 2s in queue before processing starts
	Heartbeat      time.Duration    // 15s between stream keep-alives
	MaxRows        int              // 2000, echoed in submission limits
	MaxUploadBytes int64            // 10 MiB
	Now            func() time.Time // time.Now
	Logger         *log.Logger
}

func (o *Options) defaults() {
	if len(o.SigningKey) == 0 {
		o.SigningKey = []byte(shared.GenerateID())
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = time.Hour
	}
	if o.RefreshGrace <= 0 {
		o.RefreshGrace = 24 * time.Hour
	}
	if o.Rows <= 0 {
		o.Rows = 100
	}
	if o.Step <= 0 {
		o.Step = 5
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.StartDelay < 0 {
		o.StartDelay = 0
	} else if o.StartDelay == 0 {
		o.StartDelay = 2 * time.Second
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 15 * time.Second
	}
	if o.MaxRows <= 0 {
		o.MaxRows = 2000
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 10 << 20
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// Server is the in-memory development backend.
type Server struct {
	opts     Options
	router   *BasicRouter
	users    *userStore
	jobs     *jobStore
	tokens   *tokenIssuer
	upgrader websocket.Upgrader
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server with the demo account already registered.
func New(opts Options) (*Server, error) {
	opts.defaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		router:   NewBasicRouter("/v1"),
		users:    newUserStore(),
		jobs:     newJobStore(),
		tokens:   newTokenIssuer(opts.SigningKey, opts.TokenTTL, opts.RefreshGrace, opts.Now),
		upgrader: websocket.Upgrader{HandshakeTimeout: 10 * time.Second},
		logger:   shared.WithLogger(opts.Logger, "component", "dev-server"),
		ctx:      ctx,
		cancel:   cancel,
	}

	_, err := s.users.add(services.RegisterRequest{
		Email:           DemoEmail,
		Username:        "demo",
		CompanyName:     "Demo Company",
		CompanyDocument: "00000000000191",
		Password:        DemoPassword,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to seed demo account: %w", err)
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(Recover(s.logger), Logging(s.logger))

	r.HandleFunc(http.MethodPost, "/auth/login", s.login)
	r.HandleFunc(http.MethodPost, "/auth/refresh", s.refresh)
	r.HandleFunc(http.MethodPost, "/auth/register", s.register)
	r.Handle(http.MethodPost, "/auth/logout", s.requireAuth(s.logout))
	r.Handle(http.MethodPost, "/auth/change-password", s.requireAuth(s.changePassword))
	r.Handle(http.MethodPost, "/auth/validate", s.requireAuth(s.validate))

	r.Handle(http.MethodPost, "/jobs", s.requireAuth(s.submitJob))
	r.Handle(http.MethodGet, "/jobs/{id}", s.requireAuth(s.getJob))
	r.Handle(http.MethodPost, "/jobs/{id}/cancel", s.requireAuth(s.cancelJob))
	r.Handle(http.MethodGet, "/jobs/{id}/events", s.requireAuth(s.streamEvents))
	r.Handle(http.MethodGet, "/jobs/{id}/results", s.requireAuth(s.download(services.ReportResults)))
	r.Handle(http.MethodGet, "/jobs/{id}/errors", s.requireAuth(s.download(services.ReportErrors)))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) now() time.Time { return s.opts.Now() }

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("dev backend listening", "addr", addr, "demo", DemoEmail)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
		close(serverErrors)
	}()

	select {
	case err, ok := <-serverErrors:
		s.Close()
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Stop simulations before Shutdown so open streams end.
	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("error shutting down server", "error", err)
		return httpServer.Close()
	}
	return nil
}

// Close stops every running simulation.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}
