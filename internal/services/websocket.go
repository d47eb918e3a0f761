package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// WebSocketStream reads job deltas from the events endpoint upgraded to a WebSocket.
//
// Each text message is one JSON delta.
type WebSocketStream struct {
	client      *Client
	dialer      *websocket.Dialer
	idleTimeout time.Duration
	logger      *log.Logger
}

// WebSocket returns a [WebSocketStream] authorized by c's credentials.
func (c *Client) WebSocket(idle time.Duration) *WebSocketStream {
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &WebSocketStream{
		client:      c,
		dialer:      &websocket.Dialer{HandshakeTimeout: min(c.timeout, defaultHeaderTimeout), Proxy: http.ProxyFromEnvironment},
		idleTimeout: idle,
		logger:      shared.WithLogger(c.logger, "transport", "websocket"),
	}
}

// Subscribe dials the events endpoint and delivers deltas until ctx is done or the connection drops.
func (w *WebSocketStream) Subscribe(ctx context.Context, jobID string, deliver func(models.Delta)) error {
	if w.client.creds == nil {
		return fmt.Errorf("%w: client has no credentials", shared.ErrNotAuthenticated)
	}

	conn, err := withReauth(ctx, w.client.creds, func(ctx context.Context, token string) (*websocket.Conn, int, error) {
		return w.dial(ctx, jobID, token)
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	})
	defer stop()

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(w.idleTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(w.idleTimeout)); err != nil {
			return &shared.NetworkError{Reason: shared.ReasonUnreachable, Err: err}
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return w.readError(ctx, err)
		}

		var delta models.Delta
		if err := json.Unmarshal(data, &delta); err != nil {
			w.logger.Warn("skipping malformed message", "error", err)
			continue
		}
		deliver(delta)
	}
}

func (w *WebSocketStream) dial(ctx context.Context, jobID, token string) (*websocket.Conn, int, error) {
	if err := w.client.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if w.client.userAgent != "" {
		header.Set("User-Agent", w.client.userAgent)
	}

	conn, resp, err := w.dialer.DialContext(ctx, wsURL(w.client.baseURL)+jobPath(jobID)+"/events", header)
	if err == nil {
		return conn, http.StatusSwitchingProtocols, nil
	}
	if resp == nil {
		return nil, 0, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, resp.StatusCode, nil
	}
	return nil, resp.StatusCode, statusError(&APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header})
}

func (w *WebSocketStream) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return shared.ErrStreamClosed
	}

	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return &shared.NetworkError{Reason: shared.ReasonTimeout, Err: err}
	}
	return &shared.NetworkError{Reason: shared.ReasonUnreachable, Err: err}
}

// wsURL swaps an http(s) scheme for ws(s).
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
