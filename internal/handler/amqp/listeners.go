package amqp

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

// [ON_CHANNEL_EVENT]
// The hot path: one persisted channel event in, one inbox enqueue per
// distinct target instance out.
func (h *EventHandler) OnChannelEventV1(ctx context.Context, ev *model.RoutingEvent) error {
	_, err := h.router.Route(ctx, *ev)
	return err // NACK: a shed enqueue is absorbed, only infra errors retry.
}

// [ON_TYPING]
// Ephemeral events share the routing path but skip dedup and retries.
func (h *EventHandler) OnTypingV1(ctx context.Context, ev *model.RoutingEvent) error {
	ev.EventID = "" // never hold a window slot for an indicator
	_, err := h.router.Route(ctx, *ev)
	return err
}

// [ON_MEMBER_CHANGED]
func (h *EventHandler) OnMemberChangedV1(ctx context.Context, ev *model.MembershipEvent) error {
	return h.membership.Apply(ctx, *ev)
}

// [ON_PRESENCE]
func (h *EventHandler) OnPresenceV1(ctx context.Context, up *model.PresenceUpdate) error {
	return h.presence.Apply(ctx, *up)
}

// [ON_ASSIGNMENT]
// Worker mode only: a new registry version rebalances the owned slice.
func (h *EventHandler) OnAssignmentV1(_ context.Context, a *model.PartitionAssignment) error {
	h.worker.Apply(a)
	return nil
}

// shardHandler is the coordinator-mode event listener. It needs the raw
// message (UUID and metadata survive the republish), so it bypasses Bind.
func (h *EventHandler) shardHandler() message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var ev model.RoutingEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			return nil // ACK: Poison Pill protection.
		}
		return h.coordinator.Republish(msg, ev)
	}
}
