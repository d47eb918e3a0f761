// package services implements the HTTP request layer for the remote job service
package services

import (
	"context"

	"github.com/desertthunder/jobtrack/internal/models"
)

// Credentials supplies and renews the bearer credential for authorized calls.
//
// [session.Manager] implements it.
type Credentials interface {
	AccessToken() string
	Refresh(ctx context.Context) (*models.Session, error)
	Expire()
}

// Subscriber opens a push channel of progress deltas for one job.
//
// Subscribe blocks until ctx is done or the channel fails. deliver runs on the
// reading goroutine, in arrival order.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string, deliver func(models.Delta)) error
}

var (
	_ Subscriber = (*EventStream)(nil)
	_ Subscriber = (*WebSocketStream)(nil)
)
