package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-routing-service/config"
	"github.com/webitel/im-routing-service/internal/adapter/pubsub"
	"github.com/webitel/im-routing-service/internal/domain/index"
	"github.com/webitel/im-routing-service/internal/observe"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		fx.Annotate(
			func(idx index.Indexer, publisher pubsub.InstancePublisher, metrics *observe.Metrics, cfg *config.Config) (*RouterService, error) {
				return NewRouterService(idx, publisher, metrics, cfg.Partition.DedupWindow)
			},
			fx.As(new(Router)),
		),
		fx.Annotate(
			NewPresenceService,
			fx.As(new(PresenceApplier)),
		),
		fx.Annotate(
			NewMembershipService,
			fx.As(new(MembershipApplier)),
		),
		func(idx index.Indexer, logger *slog.Logger, cfg *config.Config) *Sweeper {
			return NewSweeper(idx, logger, cfg.Presence.TTL, cfg.Presence.SweepInterval)
		},
	),

	// [DECORATION_LAYER] Intercept the Router to add cross-cutting concerns.
	fx.Decorate(func(orig Router, logger *slog.Logger) Router {
		return &routerMiddleware{
			next:   orig,
			logger: logger,
		}
	}),

	fx.Invoke(func(lc fx.Lifecycle, sweeper *Sweeper) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				sweeper.Start(context.Background())
				return nil
			},
			OnStop: func(ctx context.Context) error {
				sweeper.Stop()
				return nil
			},
		})
	}),
)
