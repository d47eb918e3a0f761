package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
	tu "github.com/desertthunder/jobtrack/internal/testing"
)

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore("jobtrack-test")

	_, err := store.Get()
	require.ErrorIs(t, err, shared.ErrSessionNotFound)

	session := &models.Session{Credential: "tok", Identity: testIdentity, ExpiresAt: 42}
	require.NoError(t, store.Set(session))

	got, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, session, got)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	_, err = store.Get()
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	assert.ErrorIs(t, store.Set(&models.Session{}), shared.ErrInvalidInput)
}

func TestStoreDocs(t *testing.T) {
	assert.Empty(t, tu.Undocumented(t, "store.go"), "exported store API without doc comments")
}

func TestExpiryFromToken(t *testing.T) {
	exp := time.Unix(1_800_000_000, 0)

	got, err := ExpiryFromToken(tu.MintToken(t, "u1", exp))
	require.NoError(t, err)
	assert.True(t, got.Equal(exp))

	_, err = ExpiryFromToken("not-a-jwt")
	assert.ErrorIs(t, err, shared.ErrNoExpiryClaim)
}

func TestRefreshDelay(t *testing.T) {
	now := time.Unix(1_000, 0)
	tests := []struct {
		name   string
		expiry time.Time
		want   time.Duration
	}{
		{"well before", now.Add(time.Hour), 55 * time.Minute},
		{"exactly at lead", now.Add(5 * time.Minute), 0},
		{"inside window", now.Add(time.Minute), 0},
		{"already expired", now.Add(-time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RefreshDelay(tt.expiry, now, DefaultRefreshLead))
		})
	}
}
