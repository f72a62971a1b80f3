package partition

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/webitel/im-routing-service/config"
	infrapubsub "github.com/webitel/im-routing-service/infra/pubsub"
	"github.com/webitel/im-routing-service/internal/domain/index"
	"github.com/webitel/im-routing-service/internal/service"
)

// Module wires the sharded-mode roles. Outside their configured mode the
// constructors yield nil, which keeps the replicated default free of any
// partition machinery.
var Module = fx.Module("partition",
	fx.Provide(
		func(cfg *config.Config, factory *infrapubsub.Factory, logger *slog.Logger) (*Coordinator, error) {
			if cfg.Partition.Mode != config.ModeCoordinator {
				return nil, nil
			}
			pub, err := factory.BuildPublisher(cfg.Partition.Exchange)
			if err != nil {
				return nil, err
			}
			return NewCoordinator(pub, logger, cfg.Partition.Exchange, cfg.Partition.Count), nil
		},

		func(cfg *config.Config, factory *infrapubsub.Factory, idx *index.Index, router service.Router, logger *slog.Logger) (*Worker, error) {
			if cfg.Partition.Mode != config.ModeWorker {
				return nil, nil
			}
			// One durable queue per partition, shared by whichever worker
			// currently owns it: the backlog survives a hand-off.
			subscribe := SubscribeFunc(func(ctx context.Context, p uint32) (<-chan *message.Message, error) {
				topic := TopicFor(cfg.Partition.Exchange, p)
				sub, err := factory.BuildSubscriber(
					fmt.Sprintf("im-routing.partition.v1.%d", p),
					cfg.Partition.Exchange,
				)
				if err != nil {
					return nil, err
				}
				return sub.Subscribe(ctx, topic)
			})
			return NewWorker(cfg.Partition.WorkerID, idx, router, subscribe, logger, cfg.Partition.Count), nil
		},
	),

	fx.Invoke(func(lc fx.Lifecycle, w *Worker, logger *slog.Logger) {
		if w == nil {
			return
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				logger.Info("PARTITION_WORKER_DRAINING")
				w.Shutdown()
				return nil
			},
		})
	}),
)
