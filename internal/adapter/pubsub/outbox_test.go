package pubsub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/webitel/im-routing-service/internal/domain/index"
	"github.com/webitel/im-routing-service/internal/observe"
)

type capturingPublisher struct {
	mu     sync.Mutex
	byTope map[string][][]byte
	err    error
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{byTope: make(map[string][][]byte)}
}

func (p *capturingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range msgs {
		p.byTope[topic] = append(p.byTope[topic], msg.Payload)
	}
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) payloads(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.byTope[topic]))
	copy(out, p.byTope[topic])
	return out
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider(), index.New())
	require.NoError(t, err)
	return m
}

func newTestRegistry(t *testing.T, pub message.Publisher, opts ...Option) *OutboxRegistry {
	t.Helper()
	r := NewOutboxRegistry(pub, slog.Default(), testMetrics(t), opts...)
	t.Cleanup(r.Shutdown)
	return r
}

func TestFlushOnSizeThreshold(t *testing.T) {
	pub := newCapturingPublisher()
	r := newTestRegistry(t, pub,
		WithFlushInterval(time.Hour), // size threshold must trigger alone
		WithMaxBatch(3),
	)

	for i := 0; i < 3; i++ {
		require.True(t, r.Enqueue("edge-a", []byte(fmt.Sprintf("p%d", i))))
	}

	assert.Eventually(t, func() bool {
		return len(pub.payloads("im_routing.v1.inbox.edge-a")) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestFlushOnTimeBudget(t *testing.T) {
	pub := newCapturingPublisher()
	r := newTestRegistry(t, pub,
		WithFlushInterval(5*time.Millisecond),
		WithMaxBatch(1000),
	)

	require.True(t, r.Enqueue("edge-a", []byte("solo")))

	assert.Eventually(t, func() bool {
		return len(pub.payloads("im_routing.v1.inbox.edge-a")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPerInstanceOrderingPreserved(t *testing.T) {
	pub := newCapturingPublisher()
	r := newTestRegistry(t, pub,
		WithFlushInterval(time.Millisecond),
		WithMaxBatch(7),
	)

	const n = 200
	for i := 0; i < n; i++ {
		require.True(t, r.Enqueue("edge-a", []byte(fmt.Sprintf("%06d", i))))
	}

	require.Eventually(t, func() bool {
		return len(pub.payloads("im_routing.v1.inbox.edge-a")) == n
	}, 2*time.Second, 5*time.Millisecond)

	got := pub.payloads("im_routing.v1.inbox.edge-a")
	for i := 1; i < len(got); i++ {
		assert.Less(t, string(got[i-1]), string(got[i]), "dequeue order must match enqueue order")
	}
}

func TestInstancesDoNotShareStreams(t *testing.T) {
	pub := newCapturingPublisher()
	r := newTestRegistry(t, pub)

	require.True(t, r.Enqueue("edge-a", []byte("for-a")))
	require.True(t, r.Enqueue("edge-b", []byte("for-b")))

	assert.Eventually(t, func() bool {
		return len(pub.payloads("im_routing.v1.inbox.edge-a")) == 1 &&
			len(pub.payloads("im_routing.v1.inbox.edge-b")) == 1
	}, time.Second, 5*time.Millisecond)

	stats := r.Stats()
	assert.Equal(t, 2, stats.Instances)
	assert.EqualValues(t, 2, stats.Published)
}

func TestPublishFailureIsFireAndForget(t *testing.T) {
	pub := newCapturingPublisher()
	pub.err = errors.New("broker gone")
	r := newTestRegistry(t, pub, WithFlushInterval(time.Millisecond))

	require.True(t, r.Enqueue("edge-a", []byte("lost")))

	// The failure is absorbed: nothing delivered, nothing retried, loss counted.
	assert.Eventually(t, func() bool {
		return r.Stats().Dropped == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, pub.payloads("im_routing.v1.inbox.edge-a"))
}

func TestSaturatedMailboxSheds(t *testing.T) {
	pub := newCapturingPublisher()
	r := newTestRegistry(t, pub,
		WithFlushInterval(time.Hour),
		WithMaxBatch(1000),
		WithMailboxSize(2),
	)

	require.True(t, r.Enqueue("edge-a", []byte("1")))
	require.True(t, r.Enqueue("edge-a", []byte("2")))

	// Mailbox capacity 2: the loop may have pulled at most one payload out,
	// so after two more enqueues at least one must be shed.
	r.Enqueue("edge-a", []byte("3"))
	r.Enqueue("edge-a", []byte("4"))

	assert.GreaterOrEqual(t, r.Stats().Dropped, uint64(1))
}

func TestShutdownDrainsPending(t *testing.T) {
	pub := newCapturingPublisher()
	r := NewOutboxRegistry(pub, slog.Default(), testMetrics(t),
		WithFlushInterval(time.Hour),
		WithMaxBatch(1000),
	)

	require.True(t, r.Enqueue("edge-a", []byte("pending")))
	r.Shutdown()

	assert.Len(t, pub.payloads("im_routing.v1.inbox.edge-a"), 1)
}
