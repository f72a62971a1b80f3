// Package metastore talks to the external chat metadata store. The engine
// only ever asks it one question - "which channels does user X belong to" -
// and only on a membership-cache miss.
package metastore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

// Resolver answers the cache-miss membership lookup.
type Resolver interface {
	ListUserChannels(ctx context.Context, userID uuid.UUID) ([]model.ChannelID, error)
}

// Invalidator drops a user's cached membership list. Called by the
// membership consumer on every join/leave; the refresh itself stays lazy.
type Invalidator interface {
	Invalidate(userID uuid.UUID)
}

// ErrUnavailable marks a transient-retryable resolution failure: the caller
// leaves the user unrouted and lets the upstream retry ladder drive another
// attempt.
var ErrUnavailable = errors.New("metastore: unavailable")
