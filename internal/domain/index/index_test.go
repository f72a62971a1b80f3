package index

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

const (
	instanceA = model.InstanceID("edge-a")
	instanceB = model.InstanceID("edge-b")
)

func channels(ids ...string) []model.ChannelID {
	out := make([]model.ChannelID, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.ChannelID(id))
	}
	return out
}

func TestOnlinePopulatesChannelIndex(t *testing.T) {
	idx := New()
	u1 := uuid.New()

	require.True(t, idx.Online(u1, instanceA, channels("c1", "c2", "c3"), 1))

	assert.Equal(t, map[model.InstanceID]int{instanceA: 1}, idx.Lookup("c1"))
	assert.Equal(t, map[model.InstanceID]int{instanceA: 1}, idx.Lookup("c3"))

	got, ok := idx.InstanceOf(u1)
	require.True(t, ok)
	assert.Equal(t, instanceA, got)
}

func TestEvictionRestoresPreOnlineState(t *testing.T) {
	idx := New()
	u1 := uuid.New()

	require.True(t, idx.Online(u1, instanceA, channels("c1", "c2"), 1))
	require.True(t, idx.EvictUser(u1, 2))

	assert.Nil(t, idx.Lookup("c1"))
	assert.Nil(t, idx.Lookup("c2"))
	_, ok := idx.InstanceOf(u1)
	assert.False(t, ok)

	stats := idx.Stats()
	assert.Zero(t, stats.Channels, "no channel entries may leak")
	assert.Zero(t, stats.Users)
	assert.Zero(t, stats.Entries)
}

func TestAddRemoveIdempotent(t *testing.T) {
	idx := New()
	u1 := uuid.New()
	require.True(t, idx.Online(u1, instanceA, nil, 1))

	assert.True(t, idx.AddUserToChannel(u1, "c1", 2))
	assert.False(t, idx.AddUserToChannel(u1, "c1", 2), "replay of the same sequence is a no-op")
	assert.Equal(t, map[model.InstanceID]int{instanceA: 1}, idx.Lookup("c1"))

	assert.True(t, idx.RemoveUserFromChannel(u1, "c1", 3))
	assert.False(t, idx.RemoveUserFromChannel(u1, "c1", 3))
	assert.Nil(t, idx.Lookup("c1"))
}

func TestStaleSequenceNeverRegresses(t *testing.T) {
	idx := New()
	u1 := uuid.New()
	require.True(t, idx.Online(u1, instanceA, nil, 1))

	require.True(t, idx.AddUserToChannel(u1, "c1", 10))

	// A late leave with sequence 9 must not undo the join at sequence 10.
	assert.False(t, idx.RemoveUserFromChannel(u1, "c1", 9))
	assert.Equal(t, map[model.InstanceID]int{instanceA: 1}, idx.Lookup("c1"))

	// And a late presence transition must not re-home the user backwards.
	assert.False(t, idx.Online(u1, instanceB, channels("c1"), 0))
	got, _ := idx.InstanceOf(u1)
	assert.Equal(t, instanceA, got)
}

func TestStaleJoinAfterNewerLeaveStaysUnmapped(t *testing.T) {
	idx := New()
	u1 := uuid.New()
	require.True(t, idx.Online(u1, instanceA, nil, 1))

	require.True(t, idx.AddUserToChannel(u1, "c1", 5))
	require.True(t, idx.RemoveUserFromChannel(u1, "c1", 10))

	// The join at sequence 9 lost the race against the leave at 10.
	assert.False(t, idx.AddUserToChannel(u1, "c1", 9))
	assert.Nil(t, idx.Lookup("c1"), "a stale join must not re-map a removed pair")

	// A genuinely newer join applies.
	assert.True(t, idx.AddUserToChannel(u1, "c1", 11))
	assert.Equal(t, map[model.InstanceID]int{instanceA: 1}, idx.Lookup("c1"))
}

func TestLeaveTombstoneSurvivesRehome(t *testing.T) {
	idx := New()
	u1 := uuid.New()
	require.True(t, idx.Online(u1, instanceA, channels("c1"), 1))
	require.True(t, idx.RemoveUserFromChannel(u1, "c1", 10))

	// Reconnect through another edge; the leave at 10 still gates.
	require.True(t, idx.Online(u1, instanceB, nil, 2))
	assert.False(t, idx.AddUserToChannel(u1, "c1", 9))
	assert.Nil(t, idx.Lookup("c1"))
}

func TestStaleOnlineAfterNewerEvictionStaysOffline(t *testing.T) {
	idx := New()
	u1 := uuid.New()
	require.True(t, idx.Online(u1, instanceA, channels("c1"), 5))
	require.True(t, idx.EvictUser(u1, 12))

	// A delayed online transition from before the disconnect.
	assert.False(t, idx.Online(u1, instanceA, channels("c1"), 9))
	assert.Nil(t, idx.Lookup("c1"), "a stale online must not resurrect an evicted user")
	_, ok := idx.InstanceOf(u1)
	assert.False(t, ok)

	// The real reconnect carries a newer sequence and applies.
	assert.True(t, idx.Online(u1, instanceB, channels("c1"), 13))
	assert.Equal(t, map[model.InstanceID]int{instanceB: 1}, idx.Lookup("c1"))
}

func TestEvictionBeforeOnlineStillGates(t *testing.T) {
	// The offline can overtake the online it belongs after; the tombstone
	// must gate even though the user was never indexed here.
	idx := New()
	u1 := uuid.New()

	assert.False(t, idx.EvictUser(u1, 12))
	assert.False(t, idx.Online(u1, instanceA, channels("c1"), 9))
	assert.Nil(t, idx.Lookup("c1"))
}

func TestForcedEvictionDoesNotGateReconnect(t *testing.T) {
	// TTL-sweep evictions carry no sequence of their own; the next online
	// must reconnect regardless of its sequence.
	idx := New()
	u1 := uuid.New()
	require.True(t, idx.Online(u1, instanceA, channels("c1"), 5))
	require.True(t, idx.EvictUser(u1, 0))

	assert.True(t, idx.Online(u1, instanceA, channels("c1"), 5))
	assert.Equal(t, map[model.InstanceID]int{instanceA: 1}, idx.Lookup("c1"))
}

func TestOfflineUserJoinIsNoOp(t *testing.T) {
	idx := New()
	u1 := uuid.New()

	assert.False(t, idx.AddUserToChannel(u1, "c1", 1))
	assert.Nil(t, idx.Lookup("c1"))
	assert.False(t, idx.EvictUser(u1, 2), "evicting an absent user is a no-op")
}

func TestRehomeMovesAllChannels(t *testing.T) {
	idx := New()
	u1 := uuid.New()

	require.True(t, idx.Online(u1, instanceA, channels("c1", "c2"), 1))
	require.True(t, idx.Online(u1, instanceB, channels("c1", "c2"), 2))

	assert.Equal(t, map[model.InstanceID]int{instanceB: 1}, idx.Lookup("c1"))
	assert.Equal(t, map[model.InstanceID]int{instanceB: 1}, idx.Lookup("c2"))
}

func TestLookupCollapsesToDistinctInstances(t *testing.T) {
	idx := New()
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	require.True(t, idx.Online(u1, instanceA, channels("c5"), 1))
	require.True(t, idx.Online(u2, instanceA, channels("c5"), 1))
	require.True(t, idx.Online(u3, instanceB, channels("c5"), 1))

	assert.Equal(t, map[model.InstanceID]int{instanceA: 2, instanceB: 1}, idx.Lookup("c5"))
}

func TestBidirectionalConsistency(t *testing.T) {
	idx := New(WithChannelShards(8), WithUserShards(4))

	users := make([]uuid.UUID, 50)
	for i := range users {
		users[i] = uuid.New()
		chs := channels(
			fmt.Sprintf("c%d", i%7),
			fmt.Sprintf("c%d", i%11),
		)
		inst := instanceA
		if i%2 == 1 {
			inst = instanceB
		}
		require.True(t, idx.Online(users[i], inst, chs, 1))
	}

	// Every user entry's channel must list the user under the user's instance.
	for _, u := range users {
		inst, ok := idx.InstanceOf(u)
		require.True(t, ok)
		us := idx.userShard(u)
		us.mu.Lock()
		entry := us.entries[u]
		owned := make([]model.ChannelID, 0, len(entry.channels))
		for ch := range entry.channels {
			owned = append(owned, ch)
		}
		us.mu.Unlock()

		for _, ch := range owned {
			counts := idx.Lookup(ch)
			require.Contains(t, counts, inst)
			require.Positive(t, counts[inst])
		}
	}

	// GC invariant: every surviving sub-entry is non-empty.
	for _, cs := range idx.channels {
		cs.mu.RLock()
		for ch, instances := range cs.entries {
			require.NotEmpty(t, instances, "channel %s has no sub-entries", ch)
			for inst, users := range instances {
				require.NotEmpty(t, users, "empty sub-entry %s/%s survived", ch, inst)
			}
		}
		cs.mu.RUnlock()
	}

	for _, u := range users {
		idx.EvictUser(u, 2)
	}
	stats := idx.Stats()
	assert.Zero(t, stats.Channels)
	assert.Zero(t, stats.Entries)
}

func TestDropChannelsScrubsBothIndices(t *testing.T) {
	idx := New()
	u1, u2 := uuid.New(), uuid.New()

	require.True(t, idx.Online(u1, instanceA, channels("p1-ch", "p2-ch"), 1))
	require.True(t, idx.Online(u2, instanceB, channels("p1-ch"), 1))

	dropped := idx.DropChannels(func(ch model.ChannelID) bool { return ch == "p1-ch" })
	assert.Equal(t, 1, dropped)

	assert.Nil(t, idx.Lookup("p1-ch"))
	assert.Equal(t, map[model.InstanceID]int{instanceA: 1}, idx.Lookup("p2-ch"))

	// u1 stays online, just without the dropped slice.
	_, ok := idx.InstanceOf(u1)
	assert.True(t, ok)
}

func TestClearDiscardsEverything(t *testing.T) {
	idx := New()
	require.True(t, idx.Online(uuid.New(), instanceA, channels("c1"), 1))

	idx.Clear()

	stats := idx.Stats()
	assert.Zero(t, stats.Channels)
	assert.Zero(t, stats.Users)
}

// BenchmarkEvictUser pins the eviction-cost property: latency scales with the
// user's own channel count, not with the total channel population. Run with
// different totalChannels values and compare ns/op; they should stay flat.
func BenchmarkEvictUser(b *testing.B) {
	const perUser = 50

	for _, totalChannels := range []int{1_000, 10_000, 100_000} {
		b.Run(fmt.Sprintf("total=%d", totalChannels), func(b *testing.B) {
			idx := New()

			// Background population to scale the total channel count.
			filler := uuid.New()
			fill := make([]model.ChannelID, 0, totalChannels)
			for i := 0; i < totalChannels; i++ {
				fill = append(fill, model.ChannelID(fmt.Sprintf("bg-%d", i)))
			}
			idx.Online(filler, instanceB, fill, 1)

			victim := make([]model.ChannelID, 0, perUser)
			for i := 0; i < perUser; i++ {
				victim = append(victim, model.ChannelID(fmt.Sprintf("v-%d", i)))
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				idx.Online(uuid.Max, instanceA, victim, uint64(i+1))
				b.StartTimer()
				idx.EvictUser(uuid.Max, 0)
			}
		})
	}
}
