package index

import (
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

// channelRef carries the last applied sequence for one (user, channel) pair.
// member reports whether the pair is currently mapped; a non-member ref is a
// tombstone that keeps rejecting joins older than the leave that removed it.
type channelRef struct {
	seq    uint64
	member bool
}

// userEntry exists iff the user is online. channels is both the membership
// set (member refs) and the stale-update gate for every pair the user ever
// touched while online (tombstone refs included).
type userEntry struct {
	instance model.InstanceID
	seq      uint64 // presence-level sequence (online/offline/re-home)
	channels map[model.ChannelID]channelRef
}

// evictionTombstones bounds the per-shard memory spent remembering offline
// sequences. Old tombstones age out; the window only has to outlive the
// redelivery horizon of a delayed presence update.
const evictionTombstones = 8192

type userShard struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*userEntry

	// evicted remembers the sequence of the newest explicit offline per
	// recently evicted user, so a stale online cannot resurrect them.
	evicted *lru.Cache[uuid.UUID, uint64]
}

func newUserShard() *userShard {
	evicted, _ := lru.New[uuid.UUID, uint64](evictionTombstones)
	return &userShard{
		entries: make(map[uuid.UUID]*userEntry),
		evicted: evicted,
	}
}

type userSet map[uuid.UUID]struct{}

// channelShard holds a slice of the primary index. An instance sub-entry
// exists iff its user set is non-empty; a channel entry exists iff it has at
// least one sub-entry. add/remove maintain that invariant inline.
type channelShard struct {
	mu      sync.RWMutex
	entries map[model.ChannelID]map[model.InstanceID]userSet
}

func newChannelShard() *channelShard {
	return &channelShard{entries: make(map[model.ChannelID]map[model.InstanceID]userSet)}
}

func (s *channelShard) add(ch model.ChannelID, instance model.InstanceID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances, ok := s.entries[ch]
	if !ok {
		instances = make(map[model.InstanceID]userSet, 1)
		s.entries[ch] = instances
	}
	users, ok := instances[instance]
	if !ok {
		users = make(userSet, 1)
		instances[instance] = users
	}
	users[userID] = struct{}{}
}

func (s *channelShard) remove(ch model.ChannelID, instance model.InstanceID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances, ok := s.entries[ch]
	if !ok {
		return
	}
	users, ok := instances[instance]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(instances, instance)
	}
	if len(instances) == 0 {
		delete(s.entries, ch)
	}
}

func (s *channelShard) lookup(ch model.ChannelID) map[model.InstanceID]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances, ok := s.entries[ch]
	if !ok {
		return nil
	}
	out := make(map[model.InstanceID]int, len(instances))
	for instance, users := range instances {
		out[instance] = len(users)
	}
	return out
}

type channelMembers struct {
	channel model.ChannelID
	users   []uuid.UUID
}

// collect snapshots the members of every matching channel. Read-only; the
// caller mutates through the user funnel afterwards.
func (s *channelShard) collect(match func(model.ChannelID) bool) []channelMembers {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []channelMembers
	for ch, instances := range s.entries {
		if !match(ch) {
			continue
		}
		m := channelMembers{channel: ch}
		for _, users := range instances {
			for userID := range users {
				m.users = append(m.users, userID)
			}
		}
		out = append(out, m)
	}
	return out
}

func (s *channelShard) clear() {
	s.mu.Lock()
	s.entries = make(map[model.ChannelID]map[model.InstanceID]userSet)
	s.mu.Unlock()
}

func (s *channelShard) size() (channels, entries int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels = len(s.entries)
	for _, instances := range s.entries {
		for _, users := range instances {
			entries += len(users)
		}
	}
	return channels, entries
}
