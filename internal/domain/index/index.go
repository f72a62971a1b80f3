/*
Package index holds the in-memory routing state of the engine: which online
users sit in which channels on which delivery-edge instances.

Key Architectural Concepts:
  - Two indices, one owner: the primary channel index (channel -> instance ->
    user set) answers the hot routing lookup; the secondary user index
    (user -> instance + channel set) makes eviction proportional to the
    user's own channel count instead of a full scan.
  - Single-writer-per-user funnel: every mutation for a given user serializes
    under that user's shard mutex, so the presence watcher and the membership
    consumer can never interleave a lost update for the same user.
  - Sequence gating: each (user, channel) pair remembers the last applied
    sequence number; an older update is discarded, never applied backward.
    The gate works in both directions: removals leave tombstones (per-pair
    refs, plus a bounded per-shard record of recent evictions) so a stale
    join or online cannot re-apply state a newer leave or offline removed.
  - Bounded memory: removing the last user of an instance sub-entry deletes
    the sub-entry, removing the last sub-entry deletes the channel entry.
    The index holds active routing state only and is rebuildable at any time
    from the presence and membership sources of truth.
*/
package index

import (
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-routing-service/internal/domain/model"
)

// Indexer is the routing-state gateway used by the consumer services.
type Indexer interface {
	Online(userID uuid.UUID, instance model.InstanceID, channels []model.ChannelID, seq uint64) bool
	EvictUser(userID uuid.UUID, seq uint64) bool
	AddUserToChannel(userID uuid.UUID, channel model.ChannelID, seq uint64) bool
	RemoveUserFromChannel(userID uuid.UUID, channel model.ChannelID, seq uint64) bool
	Lookup(channel model.ChannelID) map[model.InstanceID]int
	InstanceOf(userID uuid.UUID) (model.InstanceID, bool)
	DropChannels(match func(model.ChannelID) bool) int
	Stats() model.IndexStats
	Clear()
}

var _ Indexer = (*Index)(nil)

// Index is the sharded implementation. Channel shards carry RWMutexes because
// routing lookups vastly outnumber presence and membership writes; user shards
// carry plain mutexes and double as the per-user write funnel.
type Index struct {
	channels []*channelShard
	users    []*userShard

	config struct {
		channelShards int
		userShards    int
	}

	// filter restricts which channels this process indexes. Nil accepts
	// everything (replicated mode); partitioned workers install a predicate
	// over their owned partition set and swap it on rebalance.
	filter atomic.Pointer[func(model.ChannelID) bool]

	startedAt time.Time
}

// SetChannelFilter installs or replaces the slice-ownership predicate.
func (idx *Index) SetChannelFilter(f func(model.ChannelID) bool) {
	if f == nil {
		idx.filter.Store(nil)
		return
	}
	idx.filter.Store(&f)
}

func (idx *Index) accepts(ch model.ChannelID) bool {
	f := idx.filter.Load()
	return f == nil || (*f)(ch)
}

func New(opts ...Option) *Index {
	idx := &Index{startedAt: time.Now()}
	idx.config.channelShards = defaultChannelShards
	idx.config.userShards = defaultUserShards

	for _, opt := range opts {
		opt(idx)
	}

	idx.channels = make([]*channelShard, idx.config.channelShards)
	for i := range idx.channels {
		idx.channels[i] = newChannelShard()
	}
	idx.users = make([]*userShard, idx.config.userShards)
	for i := range idx.users {
		idx.users[i] = newUserShard()
	}
	return idx
}

func (idx *Index) channelShard(ch model.ChannelID) *channelShard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ch))
	return idx.channels[h.Sum64()%uint64(len(idx.channels))]
}

func (idx *Index) userShard(userID uuid.UUID) *userShard {
	h := fnv.New64a()
	_, _ = h.Write(userID[:])
	return idx.users[h.Sum64()%uint64(len(idx.users))]
}

// Online registers the user on the given instance with a resolved channel
// list. Re-applying the same transition is a no-op; a newer transition on a
// different instance re-homes the user (old instance entries are scrubbed
// first). Returns false when the update is stale.
func (idx *Index) Online(userID uuid.UUID, instance model.InstanceID, channels []model.ChannelID, seq uint64) bool {
	us := idx.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	// A delayed online must not resurrect a user a newer offline evicted.
	if last, ok := us.evicted.Get(userID); ok {
		if staleSeq(seq, last) {
			return false
		}
		us.evicted.Remove(userID)
	}

	entry, ok := us.entries[userID]
	if ok {
		if staleSeq(seq, entry.seq) {
			return false
		}
		if entry.instance != instance {
			// Re-home: the user reconnected through another edge process.
			// Leave tombstones carry over, the gate survives the move.
			idx.scrubLocked(userID, entry)
			rehomed := &userEntry{
				instance: instance,
				channels: make(map[model.ChannelID]channelRef, len(channels)),
			}
			for ch, ref := range entry.channels {
				if !ref.member {
					rehomed.channels[ch] = ref
				}
			}
			entry = rehomed
			us.entries[userID] = entry
		}
	} else {
		entry = &userEntry{
			instance: instance,
			channels: make(map[model.ChannelID]channelRef, len(channels)),
		}
		us.entries[userID] = entry
	}
	entry.seq = seq

	for _, ch := range channels {
		if !idx.accepts(ch) {
			continue
		}
		if ref, ok := entry.channels[ch]; ok {
			if ref.member && staleSeq(seq, ref.seq) {
				continue
			}
			// A leave at the same sequence wins over a re-join replay.
			if !ref.member && seq <= ref.seq {
				continue
			}
		}
		entry.channels[ch] = channelRef{seq: seq, member: true}
		idx.channelShard(ch).add(ch, instance, userID)
	}
	return true
}

// EvictUser removes the user from every channel it is mapped to, iterating
// only the user's own channel set. A zero sequence forces the eviction
// (TTL-expiry path); otherwise stale sequences are discarded.
func (idx *Index) EvictUser(userID uuid.UUID, seq uint64) bool {
	us := idx.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	entry, ok := us.entries[userID]
	if !ok {
		// Idempotent: already offline. Still advance the tombstone so a
		// delayed online older than this offline stays rejected.
		if seq != 0 {
			if last, ok := us.evicted.Get(userID); !ok || seq > last {
				us.evicted.Add(userID, seq)
			}
		}
		return false
	}
	if seq != 0 && staleSeq(seq, entry.seq) {
		return false
	}

	idx.scrubLocked(userID, entry)
	delete(us.entries, userID)
	if seq != 0 {
		// Forced evictions (TTL sweep, partition scrub) leave no tombstone:
		// they carry no sequence and must not gate a reconnect.
		us.evicted.Add(userID, seq)
	}
	return true
}

// scrubLocked removes every mapped channel of the entry from the channel
// index. Tombstone refs were never mapped there. Caller holds the user shard
// mutex.
func (idx *Index) scrubLocked(userID uuid.UUID, entry *userEntry) {
	for ch, ref := range entry.channels {
		if ref.member {
			idx.channelShard(ch).remove(ch, entry.instance, userID)
		}
	}
}

// AddUserToChannel maps an already-online user into one more channel
// (membership join path). No-op for offline users: their mapping materializes
// on the next online transition from the refreshed membership list. Any join
// at or below the pair's last applied sequence is a no-op - replays, and
// joins already outrun by a newer leave.
func (idx *Index) AddUserToChannel(userID uuid.UUID, channel model.ChannelID, seq uint64) bool {
	us := idx.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	if !idx.accepts(channel) {
		return false
	}

	entry, ok := us.entries[userID]
	if !ok {
		return false
	}
	if ref, ok := entry.channels[channel]; ok && seq <= ref.seq {
		return false
	}

	entry.channels[channel] = channelRef{seq: seq, member: true}
	idx.channelShard(channel).add(channel, entry.instance, userID)
	return true
}

// RemoveUserFromChannel is the symmetric leave path. The pair's sequence
// survives as a tombstone so a stale join cannot re-map it afterwards.
// A zero sequence forces the removal (partition hand-off scrub) and drops
// the pair entirely: ownership changes are not ordering decisions.
func (idx *Index) RemoveUserFromChannel(userID uuid.UUID, channel model.ChannelID, seq uint64) bool {
	us := idx.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	entry, ok := us.entries[userID]
	if !ok {
		return false
	}
	ref, ok := entry.channels[channel]
	if !ok {
		return false // idempotent: never mapped
	}

	if seq == 0 {
		delete(entry.channels, channel)
		if ref.member {
			idx.channelShard(channel).remove(channel, entry.instance, userID)
		}
		return ref.member
	}

	if !ref.member {
		// Already removed; a newer leave only advances the gate.
		if seq > ref.seq {
			entry.channels[channel] = channelRef{seq: seq}
		}
		return false
	}
	if staleSeq(seq, ref.seq) {
		return false
	}

	entry.channels[channel] = channelRef{seq: seq}
	idx.channelShard(channel).remove(channel, entry.instance, userID)
	return true
}

// Lookup returns the distinct instances holding online members of the
// channel, with per-instance member counts. The hot routing read: one
// RLock on a single channel shard.
func (idx *Index) Lookup(channel model.ChannelID) map[model.InstanceID]int {
	return idx.channelShard(channel).lookup(channel)
}

// InstanceOf reports where the user is currently connected.
func (idx *Index) InstanceOf(userID uuid.UUID) (model.InstanceID, bool) {
	us := idx.userShard(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	if entry, ok := us.entries[userID]; ok {
		return entry.instance, true
	}
	return "", false
}

// DropChannels evicts every channel matching the predicate, keeping the two
// indices consistent. Used by partitioned workers when an assignment revokes
// a slice. Returns the number of channels dropped.
func (idx *Index) DropChannels(match func(model.ChannelID) bool) int {
	dropped := 0
	for _, cs := range idx.channels {
		// Collect under RLock, mutate through the regular funnel to keep
		// the user-shard -> channel-shard lock order.
		for _, m := range cs.collect(match) {
			for _, userID := range m.users {
				idx.RemoveUserFromChannel(userID, m.channel, 0)
			}
			dropped++
		}
	}
	return dropped
}

// Clear discards all routing state. The documented recovery procedure: both
// indices are derived caches and rebuild from the presence stream.
func (idx *Index) Clear() {
	for _, us := range idx.users {
		us.mu.Lock()
		us.entries = make(map[uuid.UUID]*userEntry)
		us.evicted.Purge()
		us.mu.Unlock()
	}
	for _, cs := range idx.channels {
		cs.clear()
	}
}

func (idx *Index) Stats() model.IndexStats {
	stats := model.IndexStats{
		Uptime: time.Since(idx.startedAt),
		Shards: make([]model.ShardStats, 0, len(idx.channels)),
	}
	for i, cs := range idx.channels {
		ch, entries := cs.size()
		stats.Channels += ch
		stats.Entries += entries
		stats.Shards = append(stats.Shards, model.ShardStats{ShardID: i, Channels: ch, Entries: entries})
	}
	for _, us := range idx.users {
		us.mu.Lock()
		stats.Users += len(us.entries)
		us.mu.Unlock()
	}
	return stats
}

// staleSeq reports whether an incoming sequence must be discarded. Equal
// sequences are replays of the already-applied update and pass through so the
// operation stays idempotent rather than rejected.
func staleSeq(incoming, applied uint64) bool {
	return incoming < applied
}
