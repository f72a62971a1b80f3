package index

const (
	defaultChannelShards = 64
	defaultUserShards    = 32
)

// Option defines a functional configuration type for the Index.
type Option func(*Index)

// WithChannelShards bounds lock contention on the read-heavy channel side.
func WithChannelShards(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.config.channelShards = n
		}
	}
}

// WithUserShards sizes the per-user write funnel.
func WithUserShards(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.config.userShards = n
		}
	}
}
