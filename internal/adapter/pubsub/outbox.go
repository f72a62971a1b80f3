package pubsub

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

// outbox owns the outbound stream for one delivery-edge instance. A single
// goroutine drains the mailbox, which is what preserves per-instance event
// ordering over a transport that guarantees none.
type outbox struct {
	instance model.InstanceID
	topic    string

	// [MAILBOX]
	// Buffered hand-off between the routing hot path and the flush loop.
	// A full mailbox drops the payload: delivery here is fire-and-forget,
	// the durable event log upstream is the backstop.
	mailbox chan []byte

	doneCh  chan struct{}
	stopped atomic.Bool
	pending atomic.Int64

	lastActivityAt atomic.Int64 // unix nano
}

func newOutbox(instance model.InstanceID, topic string, mailboxSize int) *outbox {
	ob := &outbox{
		instance: instance,
		topic:    topic,
		mailbox:  make(chan []byte, mailboxSize),
		doneCh:   make(chan struct{}),
	}
	ob.touch()
	return ob
}

func (ob *outbox) touch() {
	ob.lastActivityAt.Store(time.Now().UnixNano())
}

// push hands one serialized payload to the flush loop. Never blocks the
// routing path.
func (ob *outbox) push(payload []byte) bool {
	if ob.stopped.Load() {
		return false
	}
	select {
	case ob.mailbox <- payload:
		ob.touch()
		ob.pending.Add(1)
		return true
	default:
		return false
	}
}

func (ob *outbox) isIdle(timeout time.Duration) bool {
	last := time.Unix(0, ob.lastActivityAt.Load())
	return ob.pending.Load() == 0 && time.Since(last) > timeout
}

func (ob *outbox) stop() {
	if ob.stopped.CompareAndSwap(false, true) {
		close(ob.doneCh)
	}
}

// loop accumulates payloads and flushes on a small time budget or a size
// threshold, bounding both added latency and per-publish overhead.
func (ob *outbox) loop(r *OutboxRegistry) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.flushInterval)
	defer ticker.Stop()

	batch := make([][]byte, 0, r.config.maxBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ob.publish(r, batch)
		ob.pending.Add(int64(-len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case <-ob.doneCh:
			// Drain whatever already made it into the mailbox, then leave.
			for {
				select {
				case payload := <-ob.mailbox:
					batch = append(batch, payload)
				default:
					flush()
					return
				}
			}
		case payload := <-ob.mailbox:
			batch = append(batch, payload)
			if len(batch) >= r.config.maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// publish emits one message per payload so each event reaches the inbox
// unmodified. No acknowledgment, no retry: a lost publish is an accepted
// loss at this layer.
func (ob *outbox) publish(r *OutboxRegistry, batch [][]byte) {
	msgs := make([]*message.Message, 0, len(batch))
	for _, payload := range batch {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("instance_id", string(ob.instance))
		msgs = append(msgs, msg)
	}

	if err := r.publisher.Publish(ob.topic, msgs...); err != nil {
		r.failed.Add(uint64(len(batch)))
		r.metrics.PublishFailures.Add(r.baseCtx, int64(len(batch)))
		r.logger.Warn("INBOX_PUBLISH_FAILED",
			slog.String("instance_id", string(ob.instance)),
			slog.Int("payloads", len(batch)),
			slog.Any("err", err),
		)
		return
	}

	r.published.Add(uint64(len(batch)))
	r.metrics.Publishes.Add(r.baseCtx, int64(len(batch)))
	r.metrics.FlushBatch.Record(r.baseCtx, int64(len(batch)))
}
