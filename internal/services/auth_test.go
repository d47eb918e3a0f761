package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/jobtrack/internal/shared"
)

func TestAuthAPILogin(t *testing.T) {
	expires := time.Unix(1_900_000_000, 0).UTC()
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Password != "demo123" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"invalid credentials"}`))
			return
		}
		json.NewEncoder(w).Encode(AuthResponse{
			AccessToken:     "tok",
			UserID:          "u1",
			Username:        "demo",
			Email:           body.Email,
			CompanyName:     "Acme",
			CompanyDocument: "12.345",
			ExpiresAt:       expires.Format(time.RFC3339),
		})
	})
	api := NewAuthAPI(newTestClient(server.URL, nil))

	s, err := api.Login(context.Background(), "demo@example.com", "demo123")
	require.NoError(t, err)
	assert.Equal(t, "tok", s.Credential)
	assert.Equal(t, expires.Unix(), s.ExpiresAt)
	require.NotNil(t, s.Identity)
	assert.Equal(t, "u1", s.Identity.ID)
	assert.Equal(t, "demo", s.Identity.DisplayName)
	assert.Equal(t, "Acme", s.Identity.OrgName)
	assert.Equal(t, "12.345", s.Identity.OrgID)

	_, err = api.Login(context.Background(), "demo@example.com", "wrong")
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
}

func TestAuthAPIRefresh(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer old" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"accessToken":"new"}`))
	})
	api := NewAuthAPI(newTestClient(server.URL, nil))

	s, err := api.Refresh(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "new", s.Credential)
	assert.Nil(t, s.Identity)

	_, err = api.Refresh(context.Background(), "other")
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
	assert.Equal(t, int32(2), calls.Load(), "401 on refresh is not retried")
}

func TestAuthAPIAccount(t *testing.T) {
	var registered, changed atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/register":
			registered.Add(1)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"message":"created"}`))
		case "/auth/change-password":
			changed.Add(1)
			assert.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusNoContent)
		case "/auth/validate":
			if r.Header.Get("Authorization") == "Bearer t1" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	creds := newFakeCreds("t1")
	api := NewAuthAPI(newTestClient(server.URL, creds))

	t.Run("register validates before sending", func(t *testing.T) {
		_, err := api.Register(context.Background(), RegisterRequest{Email: "a@b.c", Password: "123456"})
		assert.ErrorIs(t, err, shared.ErrMissingArgument)

		_, err = api.Register(context.Background(), RegisterRequest{
			Email: "a@b.c", Username: "a", CompanyName: "Acme", CompanyDocument: "1", Password: "12345",
		})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		assert.Equal(t, int32(0), registered.Load())

		msg, err := api.Register(context.Background(), RegisterRequest{
			Email: "a@b.c", Username: "a", CompanyName: "Acme", CompanyDocument: "1", Password: "123456",
		})
		require.NoError(t, err)
		assert.Equal(t, "created", msg)
	})

	t.Run("change password validates before sending", func(t *testing.T) {
		assert.ErrorIs(t, api.ChangePassword(context.Background(), ChangePasswordRequest{CurrentPassword: "abcdef", NewPassword: "abcdef"}), shared.ErrInvalidInput)
		assert.ErrorIs(t, api.ChangePassword(context.Background(), ChangePasswordRequest{CurrentPassword: "abcdef", NewPassword: "abc"}), shared.ErrInvalidInput)
		assert.ErrorIs(t, api.ChangePassword(context.Background(), ChangePasswordRequest{NewPassword: "abcdefg"}), shared.ErrMissingArgument)
		assert.Equal(t, int32(0), changed.Load())

		require.NoError(t, api.ChangePassword(context.Background(), ChangePasswordRequest{CurrentPassword: "abcdef", NewPassword: "ghijkl"}))
		assert.Equal(t, int32(1), changed.Load())
	})

	t.Run("validate", func(t *testing.T) {
		ok, err := api.Validate(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = NewAuthAPI(newTestClient(server.URL, newFakeCreds("stale"))).Validate(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = NewAuthAPI(newTestClient(server.URL, nil)).Validate(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
