package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// DefaultRefreshLead is how long before expiry the renewal timer fires.
const DefaultRefreshLead = 5 * time.Minute

// Authenticator performs the raw remote authentication calls.
//
// Login and Refresh return the session as reported by the server; ExpiresAt is
// the server's own expiry field and may be zero.
type Authenticator interface {
	Login(ctx context.Context, identifier, secret string) (*models.Session, error)
	Refresh(ctx context.Context, credential string) (*models.Session, error)
	Logout(ctx context.Context, credential string) error
}

// Timer is the part of [time.Timer] the manager needs.
type Timer interface {
	Stop() bool
}

// Option configures a [Manager].
type Option func(*Manager)

// WithRefreshLead overrides [DefaultRefreshLead].
func WithRefreshLead(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lead = d
		}
	}
}

// WithLogger sets the logger used for swallowed failures.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = shared.WithLogger(l, "component", "session")
		}
	}
}

// WithClock replaces [time.Now] and [time.AfterFunc].
func WithClock(now func() time.Time, afterFunc func(time.Duration, func()) Timer) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
		if afterFunc != nil {
			m.afterFunc = afterFunc
		}
	}
}

// OnSessionEnded registers fn to run when the session ends without the user
// asking: a scheduled renewal failed or the server rejected a refreshed credential.
// The UI uses it to send the user back to login.
func OnSessionEnded(fn func(err error)) Option {
	return func(m *Manager) { m.onEnded = fn }
}

// Manager owns the current session.
type Manager struct {
	auth      Authenticator
	store     Store
	logger    *log.Logger
	lead      time.Duration
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
	onEnded   func(error)

	mu      sync.RWMutex
	session *models.Session
	timer   Timer
	gen     uint64

	refreshes singleflight.Group
}

// NewManager creates a Manager. Call [Manager.Init] to load a persisted session.
func NewManager(auth Authenticator, store Store, opts ...Option) *Manager {
	m := &Manager{
		auth:      auth,
		store:     store,
		logger:    shared.WithLogger(log.Default(), "component", "session"),
		lead:      DefaultRefreshLead,
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads the persisted session, if any, and schedules its renewal.
func (m *Manager) Init() error {
	stored, err := m.store.Get()
	if errors.Is(err, shared.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if !stored.IsAuthenticated() {
		m.logger.Warn("discarding incomplete stored session")
		return m.store.Clear()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = stored
	m.scheduleLocked(stored)
	return nil
}

// Login authenticates against the remote endpoint, stores the session and schedules its renewal.
func (m *Manager) Login(ctx context.Context, identifier, secret string) (*models.Session, error) {
	remote, err := m.auth.Login(ctx, identifier, secret)
	if err != nil {
		return nil, classifyLoginError(err)
	}
	if remote == nil || remote.Credential == "" || remote.Identity == nil {
		return nil, &shared.AuthError{Reason: shared.ReasonServer, Err: errors.New("login response carries no credential or identity")}
	}

	next := &models.Session{
		Credential: remote.Credential,
		Identity:   remote.Identity,
		ExpiresAt:  m.expiryOf(remote),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(next); err != nil {
		return nil, err
	}
	m.session = next
	m.scheduleLocked(next)
	return cloneSession(next), nil
}

// Refresh renews the current credential. Concurrent callers share one remote call.
//
// On failure the session is logged out and an [shared.AuthError] with reason
// refresh-failed is returned. Refresh never retries itself.
//
// A caller whose ctx ends first gets ctx.Err() while the shared call runs on,
// and the stored session is left as it was.
func (m *Manager) Refresh(ctx context.Context) (*models.Session, error) {
	ch := m.refreshes.DoChan("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneSession(res.Val.(*models.Session)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (*models.Session, error) {
	m.mu.RLock()
	current := m.session
	m.mu.RUnlock()

	if !current.IsAuthenticated() {
		return nil, &shared.AuthError{Reason: shared.ReasonRefreshFailed, Err: shared.ErrNotAuthenticated}
	}

	remote, err := m.auth.Refresh(ctx, current.Credential)
	if err == nil && (remote == nil || remote.Credential == "") {
		err = errors.New("refresh response carries no credential")
	}
	if err != nil {
		return nil, m.failRefresh(ctx, err)
	}

	next := &models.Session{
		Credential: remote.Credential,
		Identity:   current.Identity,
		ExpiresAt:  m.expiryOf(remote),
	}
	if remote.Identity != nil {
		next.Identity = remote.Identity
	}

	m.mu.Lock()
	if m.session != current {
		m.mu.Unlock()
		return nil, &shared.AuthError{Reason: shared.ReasonRefreshFailed, Err: shared.ErrNotAuthenticated}
	}
	if err := m.store.Set(next); err != nil {
		m.mu.Unlock()
		return nil, m.failRefresh(ctx, err)
	}
	m.session = next
	m.scheduleLocked(next)
	m.mu.Unlock()

	m.logger.Debug("credential refreshed", "expires", next.Expiry())
	return next, nil
}

func (m *Manager) failRefresh(ctx context.Context, cause error) error {
	var netErr *shared.NetworkError
	if errors.Is(cause, context.Canceled) || (errors.Is(cause, context.DeadlineExceeded) && !errors.As(cause, &netErr)) {
		m.logger.Debug("credential refresh interrupted, keeping session", "error", cause)
		return cause
	}
	m.logger.Warn("credential refresh failed, logging out", "error", cause)
	if err := m.Logout(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("failed to clear session", "error", err)
	}
	return &shared.AuthError{Reason: shared.ReasonRefreshFailed, Err: cause}
}

// Logout notifies the server on a best-effort basis, cancels the renewal timer and clears the store.
//
// Only a failure to clear the local store is returned.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	current := m.session
	m.session = nil
	m.cancelTimerLocked()
	m.mu.Unlock()

	if current != nil && current.Credential != "" {
		if err := m.auth.Logout(ctx, current.Credential); err != nil {
			m.logger.Warn("remote logout failed", "error", err)
		}
	}

	return m.store.Clear()
}

// Expire drops the session after the server rejected a freshly refreshed
// credential. No remote call is made; the session-ended callback fires once.
func (m *Manager) Expire() {
	m.mu.Lock()
	had := m.session != nil
	m.session = nil
	m.cancelTimerLocked()
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.logger.Warn("failed to clear session", "error", err)
	}
	if had {
		m.sessionEnded(&shared.AuthError{Reason: shared.ReasonSessionExpired})
	}
}

// Close cancels the renewal timer and keeps the stored session for the next process.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
}

// IsAuthenticated reports whether both a credential and an identity are held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.IsAuthenticated()
}

// CurrentIdentity returns a copy of the signed-in identity, or nil.
func (m *Manager) CurrentIdentity() *models.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.session.Identity == nil {
		return nil
	}
	id := *m.session.Identity
	return &id
}

// AccessToken returns the current credential, or "" when logged out.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.Credential
}

// Expiry returns the current credential's expiry, zero when unknown or logged out.
func (m *Manager) Expiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Expiry()
}

// scheduleLocked replaces any pending renewal with one for s.
func (m *Manager) scheduleLocked(s *models.Session) {
	m.cancelTimerLocked()
	if s.ExpiresAt == 0 {
		m.logger.Warn("credential has no expiry, renewal not scheduled")
		return
	}

	delay := RefreshDelay(s.Expiry(), m.now(), m.lead)
	gen := m.gen
	m.timer = m.afterFunc(delay, func() { m.renew(gen) })
	m.logger.Debug("renewal scheduled", "in", delay)
}

// cancelTimerLocked stops the pending timer. Bumping gen turns an already-fired callback into a no-op.
func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *Manager) renew(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.session == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	if _, err := m.Refresh(context.Background()); err != nil {
		m.sessionEnded(err)
	}
}

func (m *Manager) sessionEnded(err error) {
	if m.onEnded != nil {
		m.onEnded(err)
	}
}

// expiryOf prefers the token's exp claim over the response's own field.
func (m *Manager) expiryOf(s *models.Session) int64 {
	exp, err := ExpiryFromToken(s.Credential)
	if err == nil {
		return exp.Unix()
	}
	if s.ExpiresAt > 0 {
		m.logger.Debug("using response expiry", "reason", err)
		return s.ExpiresAt
	}
	return 0
}

func classifyLoginError(err error) error {
	var ae *shared.AuthError
	if errors.As(err, &ae) {
		return err
	}

	var (
		ne *shared.NetworkError
		ve *shared.ValidationError
	)
	switch {
	case errors.As(err, &ne):
		return &shared.AuthError{Reason: shared.ReasonNetwork, Err: err}
	case errors.Is(err, shared.ErrNotAuthenticated), errors.As(err, &ve):
		return &shared.AuthError{Reason: shared.ReasonInvalidCredentials, Err: err}
	default:
		return &shared.AuthError{Reason: shared.ReasonServer, Err: fmt.Errorf("login: %w", err)}
	}
}

func cloneSession(s *models.Session) *models.Session {
	c := *s
	if s.Identity != nil {
		id := *s.Identity
		c.Identity = &id
	}
	return &c
}
