package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/server"
	"github.com/desertthunder/jobtrack/internal/services"
	"github.com/desertthunder/jobtrack/internal/session"
	"github.com/desertthunder/jobtrack/internal/shared"
	tu "github.com/desertthunder/jobtrack/internal/testing"
	"github.com/desertthunder/jobtrack/internal/tracker"
)

var quiet = log.New(io.Discard)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func fastOptions() server.Options {
	return server.Options{
		Rows:       20,
		Step:       5,
		Tick:       10 * time.Millisecond,
		StartDelay: 5 * time.Millisecond,
		Heartbeat:  50 * time.Millisecond,
		Logger:     quiet,
	}
}

func startBackend(t *testing.T, opts server.Options) string {
	t.Helper()
	srv, err := server.New(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)
	return ts.URL + "/v1"
}

type account struct {
	client  *services.Client
	authed  *services.Client
	manager *session.Manager
	store   *tu.MemoryStore
}

func connect(t *testing.T, base string, opts ...session.Option) *account {
	t.Helper()
	client := services.NewClient(shared.APIConfig{BaseURL: base, RetryDelay: time.Millisecond}, nil, services.WithClientLogger(quiet))
	store := tu.NewMemoryStore(nil)
	opts = append([]session.Option{session.WithLogger(quiet)}, opts...)
	mgr := session.NewManager(services.NewAuthAPI(client), store, opts...)
	t.Cleanup(mgr.Close)
	return &account{client: client, authed: client.WithCredentials(mgr), manager: mgr, store: store}
}

func login(t *testing.T, base string, opts ...session.Option) *account {
	t.Helper()
	a := connect(t, base, opts...)
	_, err := a.manager.Login(context.Background(), server.DemoEmail, server.DemoPassword)
	require.NoError(t, err)
	return a
}

func submit(t *testing.T, c *services.Client) string {
	t.Helper()
	resp, err := c.SubmitJob(context.Background(), services.SubmitOptions{
		FileName: "rows.csv",
		Content:  []byte("name,email\nada,ada@example.com\n"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.JobID)
	assert.Equal(t, models.StatusQueued, resp.Status)
	return resp.JobID
}

func TestAuth(t *testing.T) {
	base := startBackend(t, fastOptions())

	t.Run("login returns identity and expiry", func(t *testing.T) {
		a := login(t, base)
		id := a.manager.CurrentIdentity()
		require.NotNil(t, id)
		assert.Equal(t, server.DemoEmail, id.Email)
		assert.WithinDuration(t, time.Now().Add(time.Hour), a.manager.Expiry(), time.Minute)
		assert.NotNil(t, a.store.Stored())
	})

	t.Run("wrong password is invalid credentials", func(t *testing.T) {
		a := connect(t, base)
		_, err := a.manager.Login(context.Background(), server.DemoEmail, "nope")
		require.Error(t, err)
		assert.True(t, shared.IsAuthReason(err, shared.ReasonInvalidCredentials))
		assert.False(t, a.manager.IsAuthenticated())
	})

	t.Run("register then change password", func(t *testing.T) {
		a := connect(t, base)
		ctx := context.Background()
		req := services.RegisterRequest{
			Email:           "new@example.com",
			Username:        "new",
			CompanyName:     "Acme",
			CompanyDocument: "123",
			Password:        "first-pass",
		}

		msg, err := services.NewAuthAPI(a.client).Register(ctx, req)
		require.NoError(t, err)
		assert.NotEmpty(t, msg)

		_, err = services.NewAuthAPI(a.client).Register(ctx, req)
		var ve *shared.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "EMAIL_TAKEN", ve.Code)

		_, err = a.manager.Login(ctx, req.Email, req.Password)
		require.NoError(t, err)

		account := services.NewAuthAPI(a.authed)
		err = account.ChangePassword(ctx, services.ChangePasswordRequest{CurrentPassword: "wrong-pass", NewPassword: "second-pass"})
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "INVALID_PASSWORD", ve.Code)

		require.NoError(t, account.ChangePassword(ctx, services.ChangePasswordRequest{CurrentPassword: "first-pass", NewPassword: "second-pass"}))

		other := connect(t, base)
		_, err = other.manager.Login(ctx, req.Email, "first-pass")
		assert.ErrorIs(t, err, shared.ErrAuthFailed)
		_, err = other.manager.Login(ctx, req.Email, "second-pass")
		assert.NoError(t, err)
	})

	t.Run("validate and logout", func(t *testing.T) {
		a := login(t, base)
		ctx := context.Background()
		token := a.manager.AccessToken()

		ok, err := services.NewAuthAPI(a.authed).Validate(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, a.manager.Logout(ctx))
		ok, err = services.NewAuthAPI(a.authed).Validate(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		req, _ := http.NewRequest(http.MethodPost, base+"/auth/validate", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "revoked token")
	})

	t.Run("missing bearer gets the error envelope", func(t *testing.T) {
		resp, err := http.Get(base + "/jobs/anything")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "UNAUTHORIZED", gjson.GetBytes(body, "error.code").String())
	})
}

func TestRefresh(t *testing.T) {
	clk := newClock()
	opts := fastOptions()
	opts.Now = clk.Now
	opts.TokenTTL = time.Minute
	opts.RefreshGrace = time.Hour
	base := startBackend(t, opts)

	noTimers := session.WithClock(clk.Now, func(time.Duration, func()) session.Timer { return noopTimer{} })

	t.Run("expired credential is refreshed and the call replayed", func(t *testing.T) {
		a := login(t, base, noTimers)
		id := submit(t, a.authed)
		before := a.manager.AccessToken()

		clk.Advance(2 * time.Minute)
		job, err := a.authed.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, job.JobID)
		assert.NotEqual(t, before, a.manager.AccessToken())
		assert.Equal(t, a.manager.AccessToken(), a.store.Stored().Credential)
	})

	t.Run("past the grace period the session ends", func(t *testing.T) {
		a := login(t, base, noTimers)

		clk.Advance(2 * time.Hour)
		_, err := a.authed.GetJob(context.Background(), "whatever")
		require.Error(t, err)
		assert.True(t, shared.IsAuthReason(err, shared.ReasonRefreshFailed))
		assert.False(t, a.manager.IsAuthenticated())
		assert.Nil(t, a.store.Stored())
	})
}

func TestJobs(t *testing.T) {
	base := startBackend(t, fastOptions())
	a := login(t, base)
	ctx := context.Background()

	t.Run("unknown job is not found", func(t *testing.T) {
		_, err := a.authed.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("jobs are private to their owner", func(t *testing.T) {
		id := submit(t, a.authed)

		other := connect(t, base)
		_, err := services.NewAuthAPI(other.client).Register(ctx, services.RegisterRequest{
			Email: "other@example.com", Username: "other", CompanyName: "Other", CompanyDocument: "9", Password: "secret1",
		})
		require.NoError(t, err)
		_, err = other.manager.Login(ctx, "other@example.com", "secret1")
		require.NoError(t, err)

		_, err = other.authed.GetJob(ctx, id)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("reports wait for the job to finish", func(t *testing.T) {
		opts := fastOptions()
		opts.StartDelay = time.Hour
		slow := login(t, startBackend(t, opts))
		id := submit(t, slow.authed)

		_, err := slow.authed.Download(ctx, id, services.ReportResults)
		assert.ErrorIs(t, err, shared.ErrJobNotTerminal)

		resp, err := slow.authed.Get(ctx, "/jobs/"+id+"/errors")
		assert.ErrorIs(t, err, shared.ErrJobNotTerminal)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("cancel", func(t *testing.T) {
		opts := fastOptions()
		opts.StartDelay = time.Hour
		slow := login(t, startBackend(t, opts))
		id := submit(t, slow.authed)

		job, err := slow.authed.CancelJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCanceled, job.Status)
		require.NotNil(t, job.Links)

		_, err = slow.authed.CancelJob(ctx, id)
		assert.ErrorIs(t, err, shared.ErrJobFinished)
	})

	t.Run("file type is checked", func(t *testing.T) {
		_, err := a.authed.SubmitJob(ctx, services.SubmitOptions{FileName: "rows.csv", FileType: "json", Content: []byte("x")})
		var ve *shared.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "INVALID_FILE_TYPE", ve.Code)
	})
}

func multipartUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "rows.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestSubmitIdempotency(t *testing.T) {
	base := startBackend(t, fastOptions())
	a := login(t, base)

	post := func(key string) (int, models.SubmitResponse) {
		body, contentType := multipartUpload(t)
		req, err := http.NewRequest(http.MethodPost, base+"/jobs", body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+a.manager.AccessToken())
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var out models.SubmitResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	status, first := post("key-1")
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, 2000, first.Limits.MaxRows)

	status, again := post("key-1")
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, first.JobID, again.JobID)

	_, other := post("key-2")
	assert.NotEqual(t, first.JobID, other.JobID)

	status, _ = post("")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTrackToCompletion(t *testing.T) {
	transports := map[string]func(c *services.Client) tracker.Subscriber{
		"sse":       func(c *services.Client) tracker.Subscriber { return c.Events(time.Second) },
		"websocket": func(c *services.Client) tracker.Subscriber { return c.WebSocket(time.Second) },
	}

	for name, push := range transports {
		t.Run(name, func(t *testing.T) {
			base := startBackend(t, fastOptions())
			a := login(t, base)
			id := submit(t, a.authed)

			engine := tracker.NewEngine(a.authed,
				tracker.WithPush(push(a.authed)),
				tracker.WithReconnect(10*time.Millisecond, 3),
				tracker.WithPollInterval(time.Hour),
				tracker.WithLogger(quiet),
			)
			t.Cleanup(engine.Close)

			updates := make(chan models.Job, 256)
			errs := make(chan error, 16)
			require.NoError(t, engine.Track(id,
				func(j models.Job) {
					select {
					case updates <- j:
					default:
					}
				},
				func(err error) {
					select {
					case errs <- err:
					default:
					}
				},
			))

			settled := make(chan error, 1)
			go func() { settled <- engine.Wait(context.Background(), id) }()

			var seen []models.Job
			timeout := time.After(5 * time.Second)
		collect:
			for {
				select {
				case j := <-updates:
					seen = append(seen, j)
				case err := <-errs:
					t.Fatalf("unexpected error: %v", err)
				case err := <-settled:
					require.NoError(t, err)
					break collect
				case <-timeout:
					t.Fatalf("job did not settle, state %s", engine.State(id))
				}
			}
			for len(updates) > 0 {
				seen = append(seen, <-updates)
			}

			require.NotEmpty(t, seen)
			for i := 1; i < len(seen); i++ {
				assert.GreaterOrEqual(t, seen[i].Stats.Processed, seen[i-1].Stats.Processed, "processed never decreases")
			}

			last := seen[len(seen)-1]
			assert.Equal(t, models.StatusCompleted, last.Status)
			assert.Equal(t, models.Stats{Total: 20, Processed: 20, Succeeded: 16, Failed: 4, Remaining: 0}, last.Stats)
			require.NotNil(t, last.Links)
			assert.NotEmpty(t, last.Links.Results)
			assert.Empty(t, engine.Tracking())

			results, err := a.authed.Download(context.Background(), id, services.ReportResults)
			require.NoError(t, err)
			assert.Len(t, strings.Split(strings.TrimSpace(string(results)), "\n"), 17)

			failures, err := a.authed.Download(context.Background(), id, services.ReportErrors)
			require.NoError(t, err)
			assert.Len(t, strings.Split(strings.TrimSpace(string(failures)), "\n"), 5)
		})
	}
}

func TestTrackUnknownJob(t *testing.T) {
	base := startBackend(t, fastOptions())
	a := login(t, base)

	engine := tracker.NewEngine(a.authed, tracker.WithPush(a.authed.Events(time.Second)), tracker.WithLogger(quiet))
	t.Cleanup(engine.Close)

	errs := make(chan error, 1)
	require.NoError(t, engine.Track("missing", nil, func(err error) { errs <- err }))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, shared.ErrNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, engine.Wait(ctx, "missing"))
	assert.Equal(t, tracker.StateIdle, engine.State("missing"))
}
