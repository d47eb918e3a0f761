package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

type deltaSink struct {
	mu     sync.Mutex
	deltas []models.Delta
}

func (s *deltaSink) deliver(d models.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, d)
}

func (s *deltaSink) all() []models.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Delta(nil), s.deltas...)
}

func sseHandler(t *testing.T, frames []string, hold <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/j1/events", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		if r.Header.Get("Authorization") != "Bearer t1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
			}
		}
	}
}

func TestEventStream(t *testing.T) {
	t.Run("delivers frames in order and skips malformed ones", func(t *testing.T) {
		server := newTestServer(t, sseHandler(t, []string{
			": ping\n\n",
			"data: {\"processed\":10,\"succeeded\":9,\"failed\":1,\"remaining\":90,\"etaSeconds\":18}\n\n",
			"data: not-json\n\n",
			"event: progress\ndata: {\"processed\":20,\n",
			"data: \"succeeded\":19,\"failed\":1,\"remaining\":80}\n\n",
			"data: {\"processed\":100,\"succeeded\":95,\"failed\":5,\"remaining\":0,\"status\":\"completed\"}\n\n",
		}, nil))
		sink := &deltaSink{}

		err := newTestClient(server.URL, newFakeCreds("t1")).Events(0).Subscribe(context.Background(), "j1", sink.deliver)
		assert.ErrorIs(t, err, shared.ErrStreamClosed)

		deltas := sink.all()
		require.Len(t, deltas, 3)
		assert.Equal(t, 10, deltas[0].Processed)
		require.NotNil(t, deltas[0].ETASeconds)
		assert.Equal(t, 18, *deltas[0].ETASeconds)
		assert.Equal(t, 20, deltas[1].Processed)
		assert.Empty(t, deltas[1].Status)
		assert.Equal(t, models.StatusCompleted, deltas[2].Status)
	})

	t.Run("reauthorizes once then expires", func(t *testing.T) {
		server := newTestServer(t, sseHandler(t, nil, nil))
		creds := newFakeCreds("stale")
		creds.next = "still-stale"

		err := newTestClient(server.URL, creds).Events(0).Subscribe(context.Background(), "j1", func(models.Delta) {})
		assert.True(t, shared.IsAuthReason(err, shared.ReasonSessionExpired))
		refreshes, expired := creds.counts()
		assert.Equal(t, 1, refreshes)
		assert.Equal(t, 1, expired)
	})

	t.Run("refresh then stream", func(t *testing.T) {
		server := newTestServer(t, sseHandler(t, []string{"data: {\"processed\":1}\n\n"}, nil))
		creds := newFakeCreds("stale")
		creds.next = "t1"
		sink := &deltaSink{}

		err := newTestClient(server.URL, creds).Events(0).Subscribe(context.Background(), "j1", sink.deliver)
		assert.ErrorIs(t, err, shared.ErrStreamClosed)
		assert.Len(t, sink.all(), 1)
	})

	t.Run("cancel stops the stream", func(t *testing.T) {
		hold := make(chan struct{})
		defer close(hold)
		server := newTestServer(t, sseHandler(t, []string{"data: {\"processed\":1}\n\n"}, hold))
		sink := &deltaSink{}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- newTestClient(server.URL, newFakeCreds("t1")).Events(0).Subscribe(ctx, "j1", sink.deliver)
		}()

		require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("subscribe did not return after cancel")
		}
	})

	t.Run("idle stream times out", func(t *testing.T) {
		hold := make(chan struct{})
		defer close(hold)
		server := newTestServer(t, sseHandler(t, []string{": ping\n\n"}, hold))

		err := newTestClient(server.URL, newFakeCreds("t1")).Events(50*time.Millisecond).Subscribe(context.Background(), "j1", func(models.Delta) {})
		var ne *shared.NetworkError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, shared.ReasonTimeout, ne.Reason)
	})

	t.Run("unknown job", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		err := newTestClient(server.URL, newFakeCreds("t1")).Events(0).Subscribe(context.Background(), "j1", func(models.Delta) {})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestWebSocketStream(t *testing.T) {
	upgrader := websocket.Upgrader{}

	wsHandler := func(t *testing.T, deltas []any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer t1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			for _, d := range deltas {
				if s, ok := d.(string); ok {
					conn.WriteMessage(websocket.TextMessage, []byte(s))
					continue
				}
				conn.WriteJSON(d)
			}
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
			conn.ReadMessage()
		}
	}

	t.Run("delivers messages until normal close", func(t *testing.T) {
		server := newTestServer(t, wsHandler(t, []any{
			models.Delta{Processed: 5, Succeeded: 5, Remaining: 5},
			"garbage",
			models.Delta{Processed: 10, Succeeded: 9, Failed: 1, Status: models.StatusCompleted},
		}))
		sink := &deltaSink{}

		err := newTestClient(server.URL, newFakeCreds("t1")).WebSocket(0).Subscribe(context.Background(), "j1", sink.deliver)
		assert.ErrorIs(t, err, shared.ErrStreamClosed)

		deltas := sink.all()
		require.Len(t, deltas, 2)
		assert.Equal(t, 5, deltas[0].Processed)
		assert.Equal(t, models.StatusCompleted, deltas[1].Status)
	})

	t.Run("handshake 401 twice expires", func(t *testing.T) {
		server := newTestServer(t, wsHandler(t, nil))
		creds := newFakeCreds("stale")
		creds.next = "also-stale"

		err := newTestClient(server.URL, creds).WebSocket(0).Subscribe(context.Background(), "j1", func(models.Delta) {})
		assert.True(t, shared.IsAuthReason(err, shared.ReasonSessionExpired))
	})

	t.Run("ws url", func(t *testing.T) {
		assert.Equal(t, "ws://h:1/v1", wsURL("http://h:1/v1"))
		assert.Equal(t, "wss://h/v1", wsURL("https://h/v1"))
	})
}
