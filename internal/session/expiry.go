package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/desertthunder/jobtrack/internal/shared"
)

// ExpiryFromToken reads the exp claim of a JWT. The signature is not checked.
func ExpiryFromToken(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", shared.ErrNoExpiryClaim, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", shared.ErrNoExpiryClaim, err)
	}
	if exp == nil {
		return time.Time{}, shared.ErrNoExpiryClaim
	}
	return exp.Time, nil
}

// RefreshDelay is max(0, expiry-now-lead).
func RefreshDelay(expiry, now time.Time, lead time.Duration) time.Duration {
	d := expiry.Sub(now) - lead
	if d < 0 {
		return 0
	}
	return d
}
