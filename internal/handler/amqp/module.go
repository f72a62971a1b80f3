package amqp

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		NewWatermillRouter,
		NewEventHandler,
	),

	fx.Invoke(RegisterHandlers),
)

func RegisterHandlers(lc fx.Lifecycle, router *message.Router, h *EventHandler) error {
	if err := h.RegisterHandlers(router); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				// Run blocks until Close; startup failures surface in logs
				// through the watermill logger.
				_ = router.Run(context.Background())
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
	return nil
}
