package partition

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/im-routing-service/internal/domain/index"
	"github.com/webitel/im-routing-service/internal/domain/model"
	"github.com/webitel/im-routing-service/internal/service"
)

// SubscribeFunc opens a message stream for one partition's subject. The
// transport wiring lives with the AMQP handler; the worker only manages
// ownership.
type SubscribeFunc func(ctx context.Context, p uint32) (<-chan *message.Message, error)

// Worker owns a moving slice of partitions. On every assignment version it
// stops serving lost partitions (and evicts their index slice) before it
// starts loading gained ones; during the hand-off window the previous owner
// may still be serving, which downstream dedup tolerates.
type Worker struct {
	id        string
	index     *index.Index
	router    service.Router
	subscribe SubscribeFunc
	logger    *slog.Logger
	count     int

	mu      sync.Mutex
	version uint64
	owned   map[uint32]context.CancelFunc

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(id string, idx *index.Index, router service.Router, subscribe SubscribeFunc, logger *slog.Logger, count int) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:        id,
		index:     idx,
		router:    router,
		subscribe: subscribe,
		logger:    logger,
		count:     count,
		owned:     make(map[uint32]context.CancelFunc),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	// Until the first assignment arrives the worker owns nothing and must
	// index nothing.
	idx.SetChannelFilter(func(model.ChannelID) bool { return false })
	return w
}

// Apply transitions the worker to a newer assignment version. Older or
// replayed versions are ignored, never applied backward.
func (w *Worker) Apply(a *model.PartitionAssignment) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if a == nil || a.Version <= w.version {
		return
	}

	current := make([]uint32, 0, len(w.owned))
	for p := range w.owned {
		current = append(current, p)
	}
	next := a.PartitionsOf(w.id)
	gained, lost := Diff(current, next)

	// Stop serving before evicting, so no lookup can observe a half-dropped
	// slice being repopulated.
	for _, p := range lost {
		if cancel, ok := w.owned[p]; ok {
			cancel()
			delete(w.owned, p)
		}
	}

	ownedSet := make(map[uint32]struct{}, len(next))
	for _, p := range next {
		ownedSet[p] = struct{}{}
	}
	count := w.count
	w.index.SetChannelFilter(func(ch model.ChannelID) bool {
		_, ok := ownedSet[Of(ch, count)]
		return ok
	})

	for _, p := range lost {
		dropped := w.index.DropChannels(func(ch model.ChannelID) bool {
			return Of(ch, count) == p
		})
		w.logger.Info("PARTITION_RELEASED", "partition", p, "channels_dropped", dropped)
	}

	for _, p := range gained {
		ctx, cancel := context.WithCancel(w.baseCtx)
		w.owned[p] = cancel
		w.wg.Add(1)
		go w.serve(ctx, p)
		w.logger.Info("PARTITION_ACQUIRED", "partition", p)
	}

	w.version = a.Version
	w.logger.Info("ASSIGNMENT_APPLIED",
		"version", a.Version,
		"owned", len(next),
		"gained", len(gained),
		"lost", len(lost),
	)
}

func (w *Worker) serve(ctx context.Context, p uint32) {
	defer w.wg.Done()

	msgs, err := w.subscribe(ctx, p)
	if err != nil {
		w.logger.Error("PARTITION_SUBSCRIBE_FAILED", "partition", p, "err", err)
		return
	}

	for msg := range msgs {
		var ev model.RoutingEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			w.logger.Error("PARTITION_DECODE_FAILED", "partition", p, "msg_id", msg.UUID, "err", err)
			msg.Ack() // poison: terminal, not retryable
			continue
		}
		if _, err := w.router.Route(msg.Context(), ev); err != nil {
			msg.Nack()
			continue
		}
		msg.Ack()
	}
}

// Version reports the last applied assignment version.
func (w *Worker) Version() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

// Owned snapshots the currently served partitions.
func (w *Worker) Owned() []uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]uint32, 0, len(w.owned))
	for p := range w.owned {
		out = append(out, p)
	}
	return out
}

// Shutdown stops every partition stream and waits for them to drain.
func (w *Worker) Shutdown() {
	w.cancel()
	w.wg.Wait()
}
