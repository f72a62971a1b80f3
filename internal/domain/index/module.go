package index

import (
	"go.uber.org/fx"

	"github.com/webitel/im-routing-service/config"
)

var Module = fx.Module("index",
	fx.Provide(
		func(cfg *config.Config) *Index {
			return New(
				WithChannelShards(cfg.Index.ChannelShards),
				WithUserShards(cfg.Index.UserShards),
			)
		},
		fx.Annotate(
			func(idx *Index) Indexer { return idx },
			fx.As(new(Indexer)),
		),
	),
)
