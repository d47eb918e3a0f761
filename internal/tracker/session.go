package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

type eventKind int

const (
	evFetched eventKind = iota
	evDelta
	evPushEnded
)

type fetchPurpose int

const (
	fetchInitial fetchPurpose = iota
	fetchPoll
	fetchFinal
)

func (p fetchPurpose) String() string {
	switch p {
	case fetchInitial:
		return "initial"
	case fetchPoll:
		return "poll"
	case fetchFinal:
		return "final"
	default:
		return ""
	}
}

// event is what producers (fetches and the push reader) hand to the session loop.
type event struct {
	kind    eventKind
	purpose fetchPurpose
	gen     uint64
	job     *models.Job
	delta   models.Delta
	err     error
}

// session follows one job. Every field below the atomics is owned by the
// run goroutine.
type session struct {
	engine   *Engine
	jobID    string
	onUpdate func(models.Job)
	onError  func(error)
	logger   *log.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	events   chan event
	done     chan struct{}
	workers  sync.WaitGroup
	state    atomic.Int32

	last       *models.Job
	pushCancel context.CancelFunc
	pushGen    uint64
	failures   int
	abandoned  bool
	finalizing bool
	pollBusy   bool
	reconnect  *time.Timer
	poll       *time.Ticker
}

func newSession(e *Engine, jobID string, onUpdate func(models.Job), onError func(error)) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		engine:   e,
		jobID:    jobID,
		onUpdate: onUpdate,
		onError:  onError,
		logger:   shared.WithLogger(e.logger, "job", jobID),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateSnapshotting))
	return s
}

func (s *session) State() State { return State(s.state.Load()) }

func (s *session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("state", "state", st)
}

// stop cancels the session and waits for it to wind down.
func (s *session) stop() {
	s.cancel()
	<-s.done
}

// ending reports whether the session settled or was cancelled and is on its way out.
func (s *session) ending() bool {
	return s.ctx.Err() != nil || s.State() == StateSettled
}

func (s *session) run(cached *models.Job) {
	defer close(s.done)
	defer s.engine.forget(s)
	defer s.shutdown()

	s.setState(StateSnapshotting)
	if cached != nil {
		s.last = cached
		s.emit(*cached)
		if !cached.Status.IsTerminal() {
			s.goLive()
		}
	}
	s.startFetch(fetchInitial)

	for {
		var reconnectC, pollC <-chan time.Time
		if s.reconnect != nil {
			reconnectC = s.reconnect.C
		}
		if s.poll != nil {
			pollC = s.poll.C
		}

		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			if s.handle(ev) {
				s.settle()
				return
			}
		case <-reconnectC:
			s.reconnect = nil
			s.openPush()
		case <-pollC:
			if !s.pollBusy {
				s.pollBusy = true
				s.startFetch(fetchPoll)
			}
		}
	}
}

// handle processes one event and reports whether the session is done.
func (s *session) handle(ev event) bool {
	switch ev.kind {
	case evDelta:
		if ev.gen != s.pushGen || s.finalizing {
			return false
		}
		s.failures = 0
		return s.apply(DeltaUpdate(ev.delta))

	case evPushEnded:
		if ev.gen != s.pushGen {
			return false
		}
		s.pushCancel()
		s.pushCancel = nil
		return s.pushEnded(ev.err)

	case evFetched:
		if ev.purpose == fetchPoll {
			s.pollBusy = false
		}
		if s.finalizing && ev.purpose != fetchFinal {
			return false
		}
		return s.fetched(ev)
	}
	return false
}

// apply reconciles a live update and publishes it. A terminal result starts
// the final fetch.
func (s *session) apply(u Update) bool {
	next, err := s.reconcile(u)
	if err != nil {
		return false
	}
	s.publish(next)
	if next.Status.IsTerminal() {
		s.finalize()
	}
	return false
}

func (s *session) fetched(ev event) bool {
	if ev.err != nil {
		return s.fetchFailed(ev.purpose, ev.err)
	}

	switch ev.purpose {
	case fetchInitial:
		next, err := s.reconcile(SnapshotUpdate(*ev.job))
		switch {
		case err == nil:
			s.publish(next)
		case s.last == nil:
			s.deliverError(err)
			return true
		}
		if s.last.Status.IsTerminal() {
			return true
		}
		if s.State() == StateSnapshotting {
			s.goLive()
		}
		return false

	case fetchPoll:
		return s.apply(SnapshotUpdate(*ev.job))

	case fetchFinal:
		if next, err := s.reconcile(SnapshotUpdate(*ev.job)); err == nil {
			s.publish(next)
		}
		return true
	}
	return false
}

func (s *session) fetchFailed(purpose fetchPurpose, err error) bool {
	s.logger.Warn("snapshot fetch failed", "purpose", purpose, "err", err)
	s.deliverError(err)

	switch {
	case purpose == fetchFinal:
		return true
	case fatal(err):
		return true
	case purpose == fetchInitial && (s.last == nil || s.last.Status.IsTerminal()):
		return true
	}
	return false
}

func (s *session) pushEnded(err error) bool {
	if err == nil {
		err = shared.ErrStreamClosed
	}
	if fatal(err) {
		s.deliverError(err)
		return true
	}

	s.failures++
	s.engine.metrics.pushFailed()

	if s.failures > s.engine.reconnectAttempts {
		s.logger.Warn("push channel abandoned, polling", "failures", s.failures, "err", err)
		s.engine.metrics.fellBack()
		s.startPolling()
		return false
	}

	s.logger.Debug("push channel failed, reconnecting", "failures", s.failures, "in", s.engine.reconnectDelay, "err", err)
	s.reconnect = time.NewTimer(s.engine.reconnectDelay)
	return false
}

// goLive opens the push channel, or starts polling when there is none.
func (s *session) goLive() {
	if s.engine.push == nil || s.abandoned {
		s.startPolling()
		return
	}
	s.openPush()
}

func (s *session) openPush() {
	s.pushGen++
	gen := s.pushGen
	ctx, cancel := context.WithCancel(s.ctx)
	s.pushCancel = cancel
	s.setState(StateLive)

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		err := s.engine.push.Subscribe(ctx, s.jobID, func(d models.Delta) {
			s.send(ctx, event{kind: evDelta, gen: gen, delta: d})
		})
		s.send(s.ctx, event{kind: evPushEnded, gen: gen, err: err})
	}()
}

// stopPush closes the push channel. Events it already queued are dropped by generation.
func (s *session) stopPush() {
	if s.pushCancel != nil {
		s.pushCancel()
		s.pushCancel = nil
	}
	s.pushGen++
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

func (s *session) startPolling() {
	s.stopPush()
	s.abandoned = true
	s.poll = time.NewTicker(s.engine.pollInterval)
	s.setState(StatePolling)
}

func (s *session) stopPolling() {
	if s.poll != nil {
		s.poll.Stop()
		s.poll = nil
	}
}

// finalize stops both channels and asks for the snapshot that ends the session.
func (s *session) finalize() {
	s.finalizing = true
	s.stopPush()
	s.stopPolling()
	s.engine.metrics.finalFetch()
	s.startFetch(fetchFinal)
}

func (s *session) startFetch(purpose fetchPurpose) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		job, err := s.engine.fetch.GetJob(s.ctx, s.jobID)
		if err == nil && job == nil {
			err = shared.ErrNotFound
		}
		s.send(s.ctx, event{kind: evFetched, purpose: purpose, job: job, err: err})
	}()
}

// send hands ev to the loop unless ctx ends first.
func (s *session) send(ctx context.Context, ev event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *session) reconcile(u Update) (models.Job, error) {
	next, err := Reconcile(s.last, u)
	s.engine.metrics.update(u.source(), err == nil)
	if err != nil {
		s.logger.Debug("update discarded", "source", u.source(), "err", err)
	}
	return next, err
}

// publish makes next the accepted state: cache first, then the subscriber.
func (s *session) publish(next models.Job) {
	s.last = &next
	if s.ctx.Err() == nil {
		s.engine.cache.Put(s.jobID, next)
	}
	s.emit(next)
}

func (s *session) emit(job models.Job) {
	if s.ctx.Err() != nil {
		return
	}
	s.onUpdate(job.Clone())
}

func (s *session) deliverError(err error) {
	if s.ctx.Err() != nil {
		return
	}
	s.onError(err)
}

func (s *session) settle() {
	s.setState(StateSettled)
	if s.engine.recorder == nil || s.last == nil {
		return
	}
	if err := s.engine.recorder.RecordSnapshot(*s.last); err != nil {
		s.logger.Warn("failed to record job", "err", err)
	}
}

// shutdown releases timers and channels and waits for producers to exit.
func (s *session) shutdown() {
	s.stopPush()
	s.stopPolling()
	s.cancel()
	s.workers.Wait()
	s.engine.metrics.sessionEnded()
}

// fatal reports errors after which the session cannot make progress.
func fatal(err error) bool {
	return errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrAuthFailed) ||
		errors.Is(err, shared.ErrNotAuthenticated)
}
