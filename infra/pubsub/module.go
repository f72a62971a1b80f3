package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/fx"

	"github.com/webitel/im-routing-service/config"
)

var Module = fx.Module("pubsub-factory",
	fx.Provide(
		func(cfg *config.Config, logger watermill.LoggerAdapter) *Factory {
			return NewFactory(cfg.Broker.URL, logger)
		},
	),
)
