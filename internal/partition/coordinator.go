package partition

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

// Coordinator is the stateless sharding layer: it holds no index at all,
// it only rehashes every channel event onto its partition-scoped topic.
// Any number of coordinator replicas can run behind the shared event queue.
type Coordinator struct {
	publisher message.Publisher
	logger    *slog.Logger
	exchange  string
	count     int
}

func NewCoordinator(publisher message.Publisher, logger *slog.Logger, exchange string, count int) *Coordinator {
	return &Coordinator{
		publisher: publisher,
		logger:    logger,
		exchange:  exchange,
		count:     count,
	}
}

// Republish forwards the event's original payload to the owning partition's
// subject, preserving the message UUID so downstream dedup still collapses
// double-serves.
func (c *Coordinator) Republish(msg *message.Message, ev model.RoutingEvent) error {
	p := Of(ev.ChannelID, c.count)

	out := message.NewMessage(msg.UUID, msg.Payload)
	for k, v := range msg.Metadata {
		out.Metadata.Set(k, v)
	}

	if err := c.publisher.Publish(TopicFor(c.exchange, p), out); err != nil {
		return fmt.Errorf("coordinator: republish %s to partition %d: %w", ev.EventID, p, err)
	}

	c.logger.Debug("EVENT_SHARDED",
		"event_id", ev.EventID,
		"channel_id", ev.ChannelID,
		"partition", p,
	)
	return nil
}
