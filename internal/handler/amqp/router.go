package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/webitel/im-routing-service/config"
	infrapubsub "github.com/webitel/im-routing-service/infra/pubsub"
	"github.com/webitel/im-routing-service/internal/partition"
	"github.com/webitel/im-routing-service/internal/service"
)

const (
	// ------------------- QUEUES (CONSUMERS) --------------------
	MembershipQueuePrefix = "im-routing.membership.v1"
	PresenceQueuePrefix   = "im-routing.presence.v1"
	AssignmentQueuePrefix = "im-routing.assignment.v1"

	// TypingQueue is shared: exactly one replica routes each typing event,
	// with the edge targets it resolves. Per-node copies would multiply the
	// downstream publish volume by the replica count.
	TypingQueue = "im-routing.typing.v1"

	// ------------------- DEAD LETTERS --------------------------
	PoisonExchange = "im_routing.poison"
	PoisonTopic    = "im-routing.events.v1.poison"
)

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, logger)
}

type EventHandler struct {
	cfg        *config.Config
	logger     *slog.Logger
	factory    *infrapubsub.Factory
	router     service.Router
	membership service.MembershipApplier
	presence   service.PresenceApplier

	// coordinator and worker are nil outside their partition mode.
	coordinator *partition.Coordinator
	worker      *partition.Worker

	// nodeID suffixes the per-node broadcast queues so every engine replica
	// gets its own full copy of the membership and presence streams.
	nodeID string
}

type HandlerParams struct {
	fx.In

	Cfg         *config.Config
	Logger      *slog.Logger
	Factory     *infrapubsub.Factory
	Router      service.Router
	Membership  service.MembershipApplier
	Presence    service.PresenceApplier
	Coordinator *partition.Coordinator `optional:"true"`
	Worker      *partition.Worker      `optional:"true"`
}

func NewEventHandler(p HandlerParams) *EventHandler {
	return &EventHandler{
		cfg:         p.Cfg,
		logger:      p.Logger,
		factory:     p.Factory,
		router:      p.Router,
		membership:  p.Membership,
		presence:    p.Presence,
		coordinator: p.Coordinator,
		worker:      p.Worker,
		nodeID:      uuid.NewString()[:8],
	}
}

// [REGISTRATION_PIPELINE]
func (h *EventHandler) RegisterHandlers(router *message.Router) error {
	poisonPub, err := h.factory.BuildPublisher(PoisonExchange)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}
	poison, err := middleware.PoisonQueue(poisonPub, PoisonTopic)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}
	durable := []message.HandlerMiddleware{
		TraceIDMiddleware,
		LoggingMiddleware(h.logger),
		NewRetryMiddleware().Middleware,
		poison,
		middleware.Timeout(time.Second * 30),
	}
	// Typing is fire-and-forget: a lost indicator costs nothing, a retried
	// one arrives after it stopped being true.
	ephemeral := []message.HandlerMiddleware{
		TraceIDMiddleware,
		LoggingMiddleware(h.logger),
	}

	configs := h.listeners(durable, ephemeral)

	for _, c := range configs {
		// [COMPETING_CONSUMERS]
		// Parallelism on the shared group queue comes from registering the
		// same handler N times against N subscribers on ONE queue. The broker
		// round-robins, which trades per-channel event order for throughput:
		// the outbox preserves only this instance's enqueue order, it cannot
		// re-sequence what competing consumers reordered. Deployments that
		// need strict per-channel order run with events.handlers=1.
		workers := max(c.parallel, 1)
		for i := 0; i < workers; i++ {
			name := c.name
			if workers > 1 {
				name = fmt.Sprintf("%s_%d", c.name, i)
			}

			var (
				sub message.Subscriber
				err error
			)
			if c.ephemeral {
				sub, err = h.factory.BuildEphemeralSubscriber(c.queue, c.exchange)
			} else {
				sub, err = h.factory.BuildSubscriber(c.queue, c.exchange)
			}
			if err != nil {
				return fmt.Errorf("SUBSCRIBER_SETUP_FAILED: %s: %w", name, err)
			}

			router.AddConsumerHandler(name, c.topic, sub, c.handler).
				AddMiddleware(c.middleware...)
		}
	}

	h.logger.Info("AMQP_PIPELINE_READY",
		"mode", h.cfg.Partition.Mode,
		"node_id", h.nodeID,
		"listeners", len(configs),
	)
	return nil
}

type listenerConfig struct {
	name       string
	queue      string
	exchange   string
	topic      string
	ephemeral  bool // auto-delete queue; no backlog survives the consumer
	parallel   int  // competing consumers on the shared queue; 0 means 1
	middleware []message.HandlerMiddleware
	handler    message.NoPublishHandlerFunc
}

// listeners builds the consumer topology for the configured mode. Queue names
// decide the sharing shape: a name every replica computes identically is a
// work-shared group queue, a name carrying the node ID gives the replica its
// own full copy of the stream.
func (h *EventHandler) listeners(durable, ephemeral []message.HandlerMiddleware) []listenerConfig {
	var configs []listenerConfig

	switch h.cfg.Partition.Mode {
	case config.ModeCoordinator:
		// The coordinator owns no index: it only rehashes channel events
		// from the shared group queue onto partition-scoped subjects.
		configs = append(configs, listenerConfig{
			name:       "ON_CHANNEL_EVENT_SHARD",
			queue:      h.cfg.Events.Group,
			exchange:   h.cfg.Events.Exchange,
			topic:      h.cfg.Events.Topic,
			parallel:   h.cfg.Events.Handlers,
			middleware: durable,
			handler:    h.shardHandler(),
		})

	case config.ModeWorker:
		// Channel events reach a worker through its owned partition
		// subjects, served by the partition worker loop, not this table.
		configs = append(configs,
			listenerConfig{
				name:       "ON_ASSIGNMENT",
				queue:      fmt.Sprintf("%s.%s", AssignmentQueuePrefix, h.cfg.Partition.WorkerID),
				exchange:   h.cfg.Partition.AssignmentExchange,
				topic:      h.cfg.Partition.AssignmentTopic,
				ephemeral:  true,
				middleware: ephemeral,
				handler:    Bind(h.logger, h.OnAssignmentV1),
			},
			h.membershipListener(durable),
			h.presenceListener(durable),
		)

	default: // replicated
		configs = append(configs,
			listenerConfig{
				name:       "ON_CHANNEL_EVENT",
				queue:      h.cfg.Events.Group,
				exchange:   h.cfg.Events.Exchange,
				topic:      h.cfg.Events.Topic,
				parallel:   h.cfg.Events.Handlers,
				middleware: durable,
				handler:    Bind(h.logger, h.OnChannelEventV1),
			},
			// Typing rides the shared queue: any one replica can resolve the
			// targets, and splitting the stream keeps each indicator a single
			// fan-out instead of one per replica.
			listenerConfig{
				name:       "ON_TYPING",
				queue:      TypingQueue,
				exchange:   h.cfg.Events.EphemeralExchange,
				topic:      h.cfg.Events.EphemeralTopic,
				ephemeral:  true,
				middleware: ephemeral,
				handler:    Bind(h.logger, h.OnTypingV1),
			},
			h.membershipListener(durable),
			h.presenceListener(durable),
		)
	}
	return configs
}

// membershipListener and presenceListener ride per-node auto-delete queues:
// every replica holds its own index copy and must see every update, and a
// backlog for a dead replica is worthless since the index rebuilds from the
// live presence stream anyway.
func (h *EventHandler) membershipListener(mw []message.HandlerMiddleware) listenerConfig {
	return listenerConfig{
		name:       "ON_MEMBER_CHANGED",
		queue:      fmt.Sprintf("%s.%s", MembershipQueuePrefix, h.nodeID),
		exchange:   h.cfg.Membership.Exchange,
		topic:      h.cfg.Membership.Topic,
		ephemeral:  true,
		middleware: mw,
		handler:    Bind(h.logger, h.OnMemberChangedV1),
	}
}

func (h *EventHandler) presenceListener(mw []message.HandlerMiddleware) listenerConfig {
	return listenerConfig{
		name:       "ON_PRESENCE",
		queue:      fmt.Sprintf("%s.%s", PresenceQueuePrefix, h.nodeID),
		exchange:   h.cfg.Presence.Exchange,
		topic:      h.cfg.Presence.Topic,
		ephemeral:  true,
		middleware: mw,
		handler:    Bind(h.logger, h.OnPresenceV1),
	}
}
