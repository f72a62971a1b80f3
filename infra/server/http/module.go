package http

import (
	"context"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/webitel/im-routing-service/config"
	"github.com/webitel/im-routing-service/internal/adapter/pubsub"
	"github.com/webitel/im-routing-service/internal/domain/index"
)

var Module = fx.Module("ops-server",
	fx.Provide(
		func(cfg *config.Config, idx index.Indexer, pub pubsub.InstancePublisher, reg *prom.Registry, logger *slog.Logger) *Server {
			return NewServer(cfg.HTTP.Addr, idx, pub, reg, logger)
		},
	),

	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.Stop(ctx)
			},
		})
	}),
)
