package service

import (
	"context"
	"fmt"
	"time"

	"github.com/webitel/im-routing-service/internal/adapter/metastore"
	"github.com/webitel/im-routing-service/internal/domain/index"
	"github.com/webitel/im-routing-service/internal/domain/model"
	"github.com/webitel/im-routing-service/internal/observe"
)

// PresenceApplier consumes online/offline transitions of the liveness
// key space and keeps both indices in step.
type PresenceApplier interface {
	Apply(ctx context.Context, up model.PresenceUpdate) error
}

type PresenceService struct {
	index    index.Indexer
	resolver metastore.Resolver
	sweeper  *Sweeper
	metrics  *observe.Metrics
}

var _ PresenceApplier = (*PresenceService)(nil)

func NewPresenceService(idx index.Indexer, resolver metastore.Resolver, sweeper *Sweeper, metrics *observe.Metrics) *PresenceService {
	return &PresenceService{
		index:    idx,
		resolver: resolver,
		sweeper:  sweeper,
		metrics:  metrics,
	}
}

func (s *PresenceService) Apply(ctx context.Context, up model.PresenceUpdate) error {
	switch up.Status {
	case model.StatusOnline:
		return s.online(ctx, up)
	case model.StatusOffline:
		s.offline(ctx, up)
		return nil
	default:
		// Unknown status is terminal, not retryable.
		return nil
	}
}

func (s *PresenceService) online(ctx context.Context, up model.PresenceUpdate) error {
	// Every online update renews the local liveness deadline, including
	// pure heartbeats for an already-indexed user.
	s.sweeper.Touch(up.UserID)

	start := time.Now()
	channels, err := s.resolver.ListUserChannels(ctx, up.UserID)
	s.metrics.ResolveLatency.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		// The user stays unrouted until a redelivery succeeds. Observable,
		// never silent.
		s.metrics.ResolveFailures.Add(ctx, 1)
		return fmt.Errorf("presence: resolve memberships for %s: %w", up.UserID, err)
	}

	if !s.index.Online(up.UserID, up.InstanceID, channels, up.Sequence) {
		s.metrics.StaleUpdates.Add(ctx, 1)
	}
	return nil
}

func (s *PresenceService) offline(ctx context.Context, up model.PresenceUpdate) {
	s.sweeper.Forget(up.UserID)
	if !s.index.EvictUser(up.UserID, up.Sequence) {
		s.metrics.StaleUpdates.Add(ctx, 1)
	}
}
