package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/desertthunder/jobtrack/internal/shared"
)

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// tokenIssuer mints and checks HS256 access tokens and remembers revoked ones until they expire.
type tokenIssuer struct {
	key   []byte
	ttl   time.Duration
	grace time.Duration
	now   func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func newTokenIssuer(key []byte, ttl, grace time.Duration, now func() time.Time) *tokenIssuer {
	return &tokenIssuer{key: key, ttl: ttl, grace: grace, now: now, revoked: make(map[string]time.Time)}
}

func (t *tokenIssuer) issue(u *user) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	c := claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        shared.GenerateID(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// parse accepts a correctly signed, unexpired and unrevoked token.
func (t *tokenIssuer) parse(raw string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, t.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if t.isRevoked(c.ID) {
		return nil, errors.New("token revoked")
	}
	return &c, nil
}

// parseForRefresh is parse with the expiry check relaxed by the refresh grace.
func (t *tokenIssuer) parseForRefresh(raw string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, t.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(t.grace),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if t.isRevoked(c.ID) {
		return nil, errors.New("token revoked")
	}
	return &c, nil
}

func (t *tokenIssuer) keyFunc(*jwt.Token) (any, error) { return t.key, nil }

func (t *tokenIssuer) revoke(c *claims) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, exp := range t.revoked {
		if now.After(exp.Add(t.grace)) {
			delete(t.revoked, id)
		}
	}
	if c.ExpiresAt != nil {
		t.revoked[c.ID] = c.ExpiresAt.Time
	}
}

func (t *tokenIssuer) isRevoked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.revoked[id]
	return ok
}
