package metastore

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-routing-service/config"
)

var Module = fx.Module("metastore",
	fx.Provide(
		NewClient,
		func(client *Client, cfg *config.Config) *CachedResolver {
			return NewCachedResolver(client, cfg.Cache.Size, cfg.Cache.TTL)
		},
		fx.Annotate(
			func(r *CachedResolver) Resolver { return r },
			fx.As(new(Resolver)),
		),
		fx.Annotate(
			func(r *CachedResolver) Invalidator { return r },
			fx.As(new(Invalidator)),
		),
	),

	fx.Invoke(func(lc fx.Lifecycle, client *Client, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				logger.Info("METASTORE_CLIENT_CLOSING")
				return client.Close()
			},
		})
	}),
)
