package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

// routerMiddleware decorates the Router with timing and outcome logging
// without touching routing logic.
type routerMiddleware struct {
	next   Router
	logger *slog.Logger
}

func (m *routerMiddleware) Route(ctx context.Context, ev model.RoutingEvent) (int, error) {
	start := time.Now()

	targets, err := m.next.Route(ctx, ev)

	if err != nil {
		m.logger.Error("EVENT_ROUTING_FAILED",
			"event_id", ev.EventID,
			"channel_id", ev.ChannelID,
			"err", err,
		)
		return targets, err
	}

	m.logger.Debug("EVENT_ROUTED",
		"event_id", ev.EventID,
		"channel_id", ev.ChannelID,
		"targets", targets,
		"duration_us", time.Since(start).Microseconds(),
	)
	return targets, nil
}
