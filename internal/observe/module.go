package observe

import "go.uber.org/fx"

var Module = fx.Module("observe",
	fx.Provide(NewMetrics),
)
