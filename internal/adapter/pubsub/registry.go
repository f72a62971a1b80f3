/*
Package pubsub implements the instance publisher: the outbound edge of the
routing engine.

Every delivery-edge instance with at least one routed payload gets its own
outbox actor holding a buffered mailbox and a single flush goroutine. The
registry is a lock-free sync.Map keyed by instance ID, optimized for the
read-heavy enqueue path; a janitor reclaims outboxes of instances that left
the fleet. Delivery is best-effort by contract: the triggering event stays
durably logged upstream and redelivery is the durability mechanism, not this
layer.
*/
package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/im-routing-service/internal/domain/model"
	"github.com/webitel/im-routing-service/internal/observe"
)

// InstancePublisher is the contract the router hands routed payloads to.
type InstancePublisher interface {
	Enqueue(instance model.InstanceID, payload []byte) bool
	Stats() model.OutboxStats
}

var _ InstancePublisher = (*OutboxRegistry)(nil)

type OutboxRegistry struct {
	// outboxes stores Map[model.InstanceID]*outbox.
	outboxes sync.Map

	publisher message.Publisher
	logger    *slog.Logger
	metrics   *observe.Metrics
	baseCtx   context.Context

	config struct {
		inboxPrefix      string
		flushInterval    time.Duration
		maxBatch         int
		mailboxSize      int
		idleTimeout      time.Duration
		evictionInterval time.Duration
	}

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	wg     sync.WaitGroup
	doneCh chan struct{}
}

func NewOutboxRegistry(publisher message.Publisher, logger *slog.Logger, metrics *observe.Metrics, opts ...Option) *OutboxRegistry {
	r := &OutboxRegistry{
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		baseCtx:   context.Background(),
		doneCh:    make(chan struct{}),
	}
	r.config.inboxPrefix = "im_routing.v1.inbox"
	r.config.flushInterval = time.Millisecond
	r.config.maxBatch = 100
	r.config.mailboxSize = 4096
	r.config.idleTimeout = 10 * time.Minute
	r.config.evictionInterval = time.Minute

	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.janitor()
	return r
}

// Enqueue hands one routed payload to the target instance's outbox, creating
// the outbox lazily on first use. Returns false when the payload was shed
// (saturated mailbox or shutdown) - counted, never blocking.
func (r *OutboxRegistry) Enqueue(instance model.InstanceID, payload []byte) bool {
	for attempt := 0; attempt < 2; attempt++ {
		ob := r.outboxFor(instance)
		if ob.push(payload) {
			return true
		}
		if ob.stopped.Load() {
			// Raced with the janitor; drop the dead outbox and retry once.
			r.outboxes.CompareAndDelete(instance, ob)
			continue
		}
		break // saturated mailbox: shed
	}

	r.dropped.Add(1)
	r.metrics.DroppedPayloads.Add(r.baseCtx, 1)
	return false
}

// outboxFor returns the live outbox for the instance, creating it lazily on
// first use.
func (r *OutboxRegistry) outboxFor(instance model.InstanceID) *outbox {
	if val, ok := r.outboxes.Load(instance); ok {
		return val.(*outbox)
	}

	fresh := newOutbox(instance, r.config.inboxPrefix+"."+string(instance), r.config.mailboxSize)
	val, loaded := r.outboxes.LoadOrStore(instance, fresh)
	if loaded {
		fresh.stop() // lost the creation race, discard the spare
		return val.(*outbox)
	}

	r.wg.Add(1)
	go fresh.loop(r)
	return fresh
}

// janitor reclaims outboxes for instances that stopped receiving traffic,
// typically because the edge process left the fleet.
func (r *OutboxRegistry) janitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.doneCh:
			return
		case <-ticker.C:
			r.outboxes.Range(func(key, val any) bool {
				ob := val.(*outbox)
				if ob.isIdle(r.config.idleTimeout) {
					r.outboxes.Delete(key)
					ob.stop()
					r.logger.Debug("OUTBOX_EVICTED", "instance_id", key)
				}
				return true
			})
		}
	}
}

// Shutdown flushes every outbox and stops all goroutines.
func (r *OutboxRegistry) Shutdown() {
	close(r.doneCh)
	r.outboxes.Range(func(key, val any) bool {
		val.(*outbox).stop()
		r.outboxes.Delete(key)
		return true
	})
	r.wg.Wait()
}

func (r *OutboxRegistry) Stats() model.OutboxStats {
	stats := model.OutboxStats{
		Published: r.published.Load(),
		Dropped:   r.dropped.Load() + r.failed.Load(),
	}
	r.outboxes.Range(func(_, val any) bool {
		stats.Instances++
		stats.Pending += int(val.(*outbox).pending.Load())
		return true
	})
	return stats
}
