package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

const (
	defaultHeaderTimeout = 10 * time.Second
	defaultIdleTimeout   = 45 * time.Second
)

// EventStream reads job deltas from the server-sent events endpoint.
type EventStream struct {
	client        *Client
	headerTimeout time.Duration
	idleTimeout   time.Duration
	logger        *log.Logger
}

// Events returns an [EventStream] authorized by c's credentials.
//
// The stream is dropped when no line, heartbeat included, arrives within idle.
func (c *Client) Events(idle time.Duration) *EventStream {
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &EventStream{
		client:        c,
		headerTimeout: min(c.timeout, defaultHeaderTimeout),
		idleTimeout:   idle,
		logger:        shared.WithLogger(c.logger, "transport", "sse"),
	}
}

// Subscribe opens GET /jobs/{id}/events and delivers each data frame as a delta.
// Frames that do not decode are logged and skipped. A clean end of stream
// returns [shared.ErrStreamClosed].
func (s *EventStream) Subscribe(ctx context.Context, jobID string, deliver func(models.Delta)) error {
	if s.client.creds == nil {
		return fmt.Errorf("%w: client has no credentials", shared.ErrNotAuthenticated)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := withReauth(streamCtx, s.client.creds, func(_ context.Context, token string) (io.ReadCloser, int, error) {
		return s.open(ctx, streamCtx, cancel, jobID, token)
	})
	if err != nil {
		return err
	}
	defer body.Close()

	var idled atomic.Bool
	idle := time.AfterFunc(s.idleTimeout, func() {
		idled.Store(true)
		cancel()
	})
	defer idle.Stop()

	err = s.read(body, func() { idle.Reset(s.idleTimeout) }, deliver)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case idled.Load():
		return &shared.NetworkError{Reason: shared.ReasonTimeout, Err: errors.New("event stream idle")}
	case err != nil:
		return &shared.NetworkError{Reason: shared.ReasonUnreachable, Err: err}
	default:
		return shared.ErrStreamClosed
	}
}

// open connects and waits for response headers. On any non-200 status the body is closed.
func (s *EventStream) open(parent, streamCtx context.Context, cancel context.CancelFunc, jobID, token string) (io.ReadCloser, int, error) {
	if err := s.client.limiter.Wait(streamCtx); err != nil {
		return nil, 0, err
	}

	req, err := s.client.newRequest(streamCtx, request{method: http.MethodGet, path: jobPath(jobID) + "/events"}, token)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	timer := time.AfterFunc(s.headerTimeout, cancel)
	resp, err := s.client.httpClient.Do(req)
	if !timer.Stop() && err != nil && parent.Err() == nil {
		return nil, 0, &shared.NetworkError{Reason: shared.ReasonTimeout, Err: err}
	}
	if err != nil {
		return nil, 0, transportError(parent, err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, resp.StatusCode, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, resp.StatusCode, nil
	}
	return nil, resp.StatusCode, statusError(&APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data})
}

// read parses the event stream until it ends. touch runs on every line, heartbeats included.
func (s *EventStream) read(body io.Reader, touch func(), deliver func(models.Delta)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var data []string
	for scanner.Scan() {
		touch()
		line := scanner.Text()

		switch {
		case line == "":
			if len(data) > 0 {
				s.dispatch(strings.Join(data, "\n"), deliver)
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func (s *EventStream) dispatch(payload string, deliver func(models.Delta)) {
	var delta models.Delta
	if err := json.Unmarshal([]byte(payload), &delta); err != nil {
		s.logger.Warn("skipping malformed event", "error", err)
		return
	}
	deliver(delta)
}
