package service

import (
	"context"

	"github.com/webitel/im-routing-service/internal/adapter/metastore"
	"github.com/webitel/im-routing-service/internal/domain/index"
	"github.com/webitel/im-routing-service/internal/domain/model"
	"github.com/webitel/im-routing-service/internal/observe"
)

// MembershipApplier consumes join/leave events from the metadata change log.
type MembershipApplier interface {
	Apply(ctx context.Context, ev model.MembershipEvent) error
}

type MembershipService struct {
	index       index.Indexer
	invalidator metastore.Invalidator
	metrics     *observe.Metrics
}

var _ MembershipApplier = (*MembershipService)(nil)

func NewMembershipService(idx index.Indexer, invalidator metastore.Invalidator, metrics *observe.Metrics) *MembershipService {
	return &MembershipService{
		index:       idx,
		invalidator: invalidator,
		metrics:     metrics,
	}
}

// Apply mutates the indices for currently-online users only and invalidates
// the membership cache regardless of online status. It never reads the
// metastore: refresh stays lazy, deferred to the next presence transition.
func (s *MembershipService) Apply(ctx context.Context, ev model.MembershipEvent) error {
	s.invalidator.Invalidate(ev.UserID)

	_, online := s.index.InstanceOf(ev.UserID)
	if !online {
		return nil
	}

	var applied bool
	switch ev.Type {
	case model.MemberJoined:
		applied = s.index.AddUserToChannel(ev.UserID, ev.ChannelID, ev.Sequence)
	case model.MemberLeft:
		applied = s.index.RemoveUserFromChannel(ev.UserID, ev.ChannelID, ev.Sequence)
	default:
		return nil
	}

	if !applied {
		s.metrics.StaleUpdates.Add(ctx, 1)
	}
	return nil
}
