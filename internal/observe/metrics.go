// Package observe centralizes the engine's metric instruments so consumers,
// the publisher and the index report through one surface. The set mirrors the
// operational questions the SLOs ask: how big is the index, how wide is the
// fan-out, how far behind is the consumer, how often does resolution degrade.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/webitel/im-routing-service/internal/domain/index"
)

type Metrics struct {
	EventsRouted    metric.Int64Counter
	Publishes       metric.Int64Counter
	PublishFailures metric.Int64Counter
	DroppedPayloads metric.Int64Counter
	StaleUpdates    metric.Int64Counter
	DedupHits       metric.Int64Counter
	ResolveFailures metric.Int64Counter

	FanoutSize     metric.Int64Histogram   // distinct target instances per event
	ChannelSize    metric.Int64Histogram   // online members per looked-up channel
	FlushBatch     metric.Int64Histogram   // payloads per outbox flush
	ResolveLatency metric.Float64Histogram // seconds, membership resolution
	EventAge       metric.Float64Histogram // seconds between produce and route (lag proxy)
}

func NewMetrics(mp metric.MeterProvider, idx index.Indexer) (*Metrics, error) {
	meter := mp.Meter("im-routing-service")
	m := &Metrics{}

	var err error
	if m.EventsRouted, err = meter.Int64Counter("routing_events_total"); err != nil {
		return nil, err
	}
	if m.Publishes, err = meter.Int64Counter("routing_publishes_total"); err != nil {
		return nil, err
	}
	if m.PublishFailures, err = meter.Int64Counter("routing_publish_failures_total"); err != nil {
		return nil, err
	}
	if m.DroppedPayloads, err = meter.Int64Counter("routing_dropped_payloads_total"); err != nil {
		return nil, err
	}
	if m.StaleUpdates, err = meter.Int64Counter("routing_stale_updates_total"); err != nil {
		return nil, err
	}
	if m.DedupHits, err = meter.Int64Counter("routing_dedup_hits_total"); err != nil {
		return nil, err
	}
	if m.ResolveFailures, err = meter.Int64Counter("routing_resolve_failures_total"); err != nil {
		return nil, err
	}
	if m.FanoutSize, err = meter.Int64Histogram("routing_fanout_instances"); err != nil {
		return nil, err
	}
	if m.ChannelSize, err = meter.Int64Histogram("routing_channel_members"); err != nil {
		return nil, err
	}
	if m.FlushBatch, err = meter.Int64Histogram("routing_flush_batch_size"); err != nil {
		return nil, err
	}
	if m.ResolveLatency, err = meter.Float64Histogram("routing_resolve_seconds",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.EventAge, err = meter.Float64Histogram("routing_event_age_seconds",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	// Index size is observed, not counted: the gauges read the live snapshot
	// on each scrape instead of tracking every mutation.
	channels, err := meter.Int64ObservableGauge("routing_index_channels")
	if err != nil {
		return nil, err
	}
	users, err := meter.Int64ObservableGauge("routing_index_users")
	if err != nil {
		return nil, err
	}
	entries, err := meter.Int64ObservableGauge("routing_index_entries")
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := idx.Stats()
		o.ObserveInt64(channels, int64(stats.Channels))
		o.ObserveInt64(users, int64(stats.Users))
		o.ObserveInt64(entries, int64(stats.Entries))
		return nil
	}, channels, users, entries)
	if err != nil {
		return nil, err
	}

	return m, nil
}
