package pubsub

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-routing-service/config"
	infrapubsub "github.com/webitel/im-routing-service/infra/pubsub"
	"github.com/webitel/im-routing-service/internal/observe"
)

var Module = fx.Module("instance-publisher",
	fx.Provide(
		func(factory *infrapubsub.Factory, cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics) (*OutboxRegistry, error) {
			// The inbox prefix is the exchange: instance IDs become the
			// routing-key suffix, so each edge binds only its own inbox.
			pub, err := factory.BuildPublisher(cfg.Publisher.InboxPrefix)
			if err != nil {
				return nil, err
			}
			return NewOutboxRegistry(pub, logger, metrics,
				WithInboxPrefix(cfg.Publisher.InboxPrefix),
				WithFlushInterval(cfg.Publisher.FlushInterval),
				WithMaxBatch(cfg.Publisher.MaxBatch),
				WithMailboxSize(cfg.Publisher.MailboxSize),
				WithIdleTimeout(cfg.Publisher.IdleTimeout),
				WithEvictionInterval(cfg.Publisher.EvictionInterval),
			), nil
		},
		fx.Annotate(
			func(r *OutboxRegistry) InstancePublisher { return r },
			fx.As(new(InstancePublisher)),
		),
	),

	fx.Invoke(func(lc fx.Lifecycle, r *OutboxRegistry, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				logger.Info("OUTBOX_REGISTRY_DRAINING")
				r.Shutdown()
				return nil
			},
		})
	}),
)
