package cmd

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webitel/im-routing-service/config"
	"github.com/webitel/im-routing-service/infra/otel"
	infrapubsub "github.com/webitel/im-routing-service/infra/pubsub"
	httpserver "github.com/webitel/im-routing-service/infra/server/http"
	"github.com/webitel/im-routing-service/internal/adapter/metastore"
	pubsubadapter "github.com/webitel/im-routing-service/internal/adapter/pubsub"
	"github.com/webitel/im-routing-service/internal/domain/index"
	amqphandler "github.com/webitel/im-routing-service/internal/handler/amqp"
	"github.com/webitel/im-routing-service/internal/observe"
	"github.com/webitel/im-routing-service/internal/partition"
	"github.com/webitel/im-routing-service/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger}
		}),

		otel.Module,
		observe.Module,
		infrapubsub.Module,
		index.Module,
		metastore.Module,
		pubsubadapter.Module,
		service.Module,
		partition.Module,
		amqphandler.Module,
		httpserver.Module,
	)
}

func ProvideLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("service", ServiceName)
	slog.SetDefault(logger)
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}
