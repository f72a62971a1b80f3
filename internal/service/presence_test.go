package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-routing-service/internal/adapter/metastore"
	"github.com/webitel/im-routing-service/internal/domain/index"
	"github.com/webitel/im-routing-service/internal/domain/model"
)

type fakeResolver struct {
	channels map[uuid.UUID][]model.ChannelID
	err      error
	calls    int
}

func (f *fakeResolver) ListUserChannels(ctx context.Context, userID uuid.UUID) ([]model.ChannelID, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.channels[userID], nil
}

func newTestPresence(t *testing.T, idx index.Indexer, resolver metastore.Resolver) (*PresenceService, *Sweeper) {
	t.Helper()
	sweeper := NewSweeper(idx, slog.Default(), 120*time.Second, time.Second)
	return NewPresenceService(idx, resolver, sweeper, testMetrics(t, idx)), sweeper
}

func online(u uuid.UUID, inst model.InstanceID, seq uint64) model.PresenceUpdate {
	return model.PresenceUpdate{UserID: u, Status: model.StatusOnline, InstanceID: inst, Sequence: seq}
}

func offline(u uuid.UUID, seq uint64) model.PresenceUpdate {
	return model.PresenceUpdate{UserID: u, Status: model.StatusOffline, Sequence: seq}
}

func TestOnlineResolvesAndIndexes(t *testing.T) {
	idx := index.New()
	u1 := uuid.New()
	resolver := &fakeResolver{channels: map[uuid.UUID][]model.ChannelID{
		u1: {"c1", "c2", "c3"},
	}}
	p, _ := newTestPresence(t, idx, resolver)

	require.NoError(t, p.Apply(context.Background(), online(u1, "edge-a", 1)))

	assert.Equal(t, map[model.InstanceID]int{"edge-a": 1}, idx.Lookup("c1"))
	assert.Equal(t, map[model.InstanceID]int{"edge-a": 1}, idx.Lookup("c3"))
}

func TestOfflineEvicts(t *testing.T) {
	idx := index.New()
	u1 := uuid.New()
	resolver := &fakeResolver{channels: map[uuid.UUID][]model.ChannelID{u1: {"c1"}}}
	p, _ := newTestPresence(t, idx, resolver)

	require.NoError(t, p.Apply(context.Background(), online(u1, "edge-a", 1)))
	require.NoError(t, p.Apply(context.Background(), offline(u1, 2)))

	assert.Nil(t, idx.Lookup("c1"))
	_, ok := idx.InstanceOf(u1)
	assert.False(t, ok)
}

func TestResolveFailureLeavesUnroutedAndRetryable(t *testing.T) {
	idx := index.New()
	u1 := uuid.New()
	resolver := &fakeResolver{err: metastore.ErrUnavailable}
	p, _ := newTestPresence(t, idx, resolver)

	err := p.Apply(context.Background(), online(u1, "edge-a", 1))
	require.ErrorIs(t, err, metastore.ErrUnavailable, "error must bubble so the consumer retries")

	_, ok := idx.InstanceOf(u1)
	assert.False(t, ok, "user stays unrouted until a retry succeeds")

	// Redelivery after the metastore recovers.
	resolver.err = nil
	resolver.channels = map[uuid.UUID][]model.ChannelID{u1: {"c1"}}
	require.NoError(t, p.Apply(context.Background(), online(u1, "edge-a", 1)))
	assert.Equal(t, map[model.InstanceID]int{"edge-a": 1}, idx.Lookup("c1"))
}

func TestSweeperEvictsExpiredUsers(t *testing.T) {
	idx := index.New()
	u1 := uuid.New()
	require.True(t, idx.Online(u1, "edge-a", []model.ChannelID{"c1"}, 1))

	sweeper := NewSweeper(idx, slog.Default(), 10*time.Millisecond, time.Millisecond)
	sweeper.Touch(u1)

	time.Sleep(20 * time.Millisecond)
	sweeper.sweep()

	assert.Nil(t, idx.Lookup("c1"))
	_, ok := idx.InstanceOf(u1)
	assert.False(t, ok)
}

func TestHeartbeatRenewalPreventsExpiry(t *testing.T) {
	idx := index.New()
	u1 := uuid.New()
	require.True(t, idx.Online(u1, "edge-a", []model.ChannelID{"c1"}, 1))

	sweeper := NewSweeper(idx, slog.Default(), 50*time.Millisecond, time.Millisecond)
	sweeper.Touch(u1)

	time.Sleep(20 * time.Millisecond)
	sweeper.Touch(u1) // renewal
	time.Sleep(20 * time.Millisecond)
	sweeper.sweep()

	assert.NotNil(t, idx.Lookup("c1"), "a renewed heartbeat must not expire")
}

func TestStalePresenceDiscarded(t *testing.T) {
	idx := index.New()
	u1 := uuid.New()
	resolver := &fakeResolver{channels: map[uuid.UUID][]model.ChannelID{u1: {"c1"}}}
	p, _ := newTestPresence(t, idx, resolver)

	require.NoError(t, p.Apply(context.Background(), online(u1, "edge-b", 10)))

	// A delayed, older transition must not re-home the user.
	require.NoError(t, p.Apply(context.Background(), online(u1, "edge-a", 9)))

	inst, ok := idx.InstanceOf(u1)
	require.True(t, ok)
	assert.Equal(t, model.InstanceID("edge-b"), inst)
}
