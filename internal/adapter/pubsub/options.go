package pubsub

import "time"

// Option defines a functional configuration type for the OutboxRegistry.
type Option func(*OutboxRegistry)

// WithInboxPrefix sets the per-instance inbox topic prefix; the instance ID
// is appended as the last routing-key segment.
func WithInboxPrefix(prefix string) Option {
	return func(r *OutboxRegistry) {
		if prefix != "" {
			r.config.inboxPrefix = prefix
		}
	}
}

// WithFlushInterval bounds the latency an enqueued payload can sit unflushed.
func WithFlushInterval(d time.Duration) Option {
	return func(r *OutboxRegistry) {
		if d > 0 {
			r.config.flushInterval = d
		}
	}
}

// WithMaxBatch flushes early once this many payloads are pending.
func WithMaxBatch(n int) Option {
	return func(r *OutboxRegistry) {
		if n > 0 {
			r.config.maxBatch = n
		}
	}
}

// WithMailboxSize sets the shedding threshold per instance outbox.
func WithMailboxSize(n int) Option {
	return func(r *OutboxRegistry) {
		if n > 0 {
			r.config.mailboxSize = n
		}
	}
}

// WithIdleTimeout defines the quiet period after which an instance's outbox
// is eligible for eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *OutboxRegistry) {
		if d > 0 {
			r.config.idleTimeout = d
		}
	}
}

// WithEvictionInterval configures how often the janitor runs.
func WithEvictionInterval(d time.Duration) Option {
	return func(r *OutboxRegistry) {
		if d > 0 {
			r.config.evictionInterval = d
		}
	}
}
