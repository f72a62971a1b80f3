package service

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/im-routing-service/internal/adapter/pubsub"
	"github.com/webitel/im-routing-service/internal/domain/index"
	"github.com/webitel/im-routing-service/internal/domain/model"
	"github.com/webitel/im-routing-service/internal/observe"
)

// Router turns one channel-scoped event into at most one inbox publish per
// distinct target instance.
type Router interface {
	Route(ctx context.Context, ev model.RoutingEvent) (targets int, err error)
}

type RouterService struct {
	index     index.Indexer
	publisher pubsub.InstancePublisher
	metrics   *observe.Metrics

	// dedup is the event-ID window that makes at-most-twice delivery during
	// partition hand-off collapse back to once. Sized to cover the bounded
	// double-serve transition, not the full event history.
	dedup *lru.Cache[string, struct{}]
}

var _ Router = (*RouterService)(nil)

func NewRouterService(idx index.Indexer, publisher pubsub.InstancePublisher, metrics *observe.Metrics, dedupWindow int) (*RouterService, error) {
	dedup, err := lru.New[string, struct{}](dedupWindow)
	if err != nil {
		return nil, err
	}
	return &RouterService{
		index:     idx,
		publisher: publisher,
		metrics:   metrics,
		dedup:     dedup,
	}, nil
}

// Route performs the fan-out conversion: one read-locked lookup, then one
// enqueue per distinct instance with an online member. Cost is bounded by
// the number of instances touched, never by the channel's member count.
// The payload bytes are handed over untouched - serialization happened
// exactly once, at the producer.
func (s *RouterService) Route(ctx context.Context, ev model.RoutingEvent) (int, error) {
	// Ephemeral events (typing) carry no event ID and skip the window.
	if ev.EventID != "" {
		if found, _ := s.dedup.ContainsOrAdd(ev.EventID, struct{}{}); found {
			s.metrics.DedupHits.Add(ctx, 1)
			return 0, nil
		}
	}

	targets := s.index.Lookup(ev.ChannelID)
	if len(targets) == 0 {
		// No online members anywhere: a legitimate terminal state.
		s.metrics.EventsRouted.Add(ctx, 1)
		s.metrics.FanoutSize.Record(ctx, 0)
		return 0, nil
	}

	members := 0
	for instance, count := range targets {
		members += count
		// A shed payload is accounted inside the publisher; routing goes on.
		_ = s.publisher.Enqueue(instance, ev.Payload)
	}

	s.metrics.EventsRouted.Add(ctx, 1)
	s.metrics.FanoutSize.Record(ctx, int64(len(targets)))
	s.metrics.ChannelSize.Record(ctx, int64(members))
	if ev.OccurredAt > 0 {
		age := time.Since(time.UnixMilli(ev.OccurredAt))
		s.metrics.EventAge.Record(ctx, age.Seconds())
	}
	return len(targets), nil
}
