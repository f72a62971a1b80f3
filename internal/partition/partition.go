/*
Package partition implements the extreme-scale sharded mode: channels are
hashed into a fixed set of logical partitions, a stateless coordinator
republishes each channel event onto its partition-scoped topic, and workers
own disjoint partition ranges driven by a versioned assignment registry.

Activated only when the replicated full-copy index outgrows its memory
ceiling; in replicated mode none of this runs.
*/
package partition

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

// Of maps a channel onto one of count logical partitions. Stable FNV
// hashing: the partition of a channel never changes for a fixed count.
func Of(ch model.ChannelID, count int) uint32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ch))
	return uint32(h.Sum64() % uint64(count))
}

// Owner picks the partition's owner by highest-random-weight (rendezvous)
// hashing: the worker with the top hash(worker, partition) score wins. The
// property the rebalance design leans on: a worker joining or leaving only
// moves the partitions it wins or held, ~1/(n+1) of the total, regardless of
// how the fleet is named or ordered. Ties break to the smaller worker ID so
// the result is a pure function of the set.
func Owner(p uint32, workers []string) string {
	var (
		best      string
		bestScore uint64
		found     bool
	)
	for _, w := range workers {
		s := ownerScore(w, p)
		if !found || s > bestScore || (s == bestScore && w < best) {
			best, bestScore, found = w, s, true
		}
	}
	return best
}

func ownerScore(worker string, p uint32) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(worker))
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], p)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// TopicFor names the partition-scoped subject a coordinator republishes to
// and a worker subscribes on.
func TopicFor(exchange string, p uint32) string {
	return fmt.Sprintf("%s.%d", exchange, p)
}

// BuildAssignment distributes partitionCount partitions over the given
// workers with Owner, producing the registry record an operator publishes.
// Owner decides per partition, so the layout is independent of the order
// (or names) the workers arrive in.
func BuildAssignment(version uint64, partitionCount int, workers []string) *model.PartitionAssignment {
	a := &model.PartitionAssignment{
		Version:        version,
		PartitionCount: partitionCount,
		Assignments:    make(map[string][]uint32, len(workers)),
	}
	if len(workers) == 0 {
		return a
	}
	for p := 0; p < partitionCount; p++ {
		w := Owner(uint32(p), workers)
		a.Assignments[w] = append(a.Assignments[w], uint32(p))
	}
	return a
}

// Diff computes the partitions a worker gained and lost between two
// assignment versions.
func Diff(old, next []uint32) (gained, lost []uint32) {
	was := make(map[uint32]struct{}, len(old))
	for _, p := range old {
		was[p] = struct{}{}
	}
	now := make(map[uint32]struct{}, len(next))
	for _, p := range next {
		now[p] = struct{}{}
		if _, ok := was[p]; !ok {
			gained = append(gained, p)
		}
	}
	for _, p := range old {
		if _, ok := now[p]; !ok {
			lost = append(lost, p)
		}
	}
	return gained, lost
}
