package metastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/webitel/im-routing-service/internal/domain/model"
)

// CachedResolver is the membership cache: a TTL-bounded LRU in front of the
// metastore client. Entries are invalidated, never refreshed, on membership
// change events; the next presence transition repopulates lazily.
type CachedResolver struct {
	next  Resolver
	cache *expirable.LRU[uuid.UUID, []model.ChannelID]

	// group collapses concurrent misses for the same user into one RPC, so
	// a reconnect storm does not multiply load on the metastore.
	group singleflight.Group
}

var (
	_ Resolver    = (*CachedResolver)(nil)
	_ Invalidator = (*CachedResolver)(nil)
)

func NewCachedResolver(next Resolver, size int, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		next:  next,
		cache: expirable.NewLRU[uuid.UUID, []model.ChannelID](size, nil, ttl),
	}
}

func (r *CachedResolver) ListUserChannels(ctx context.Context, userID uuid.UUID) ([]model.ChannelID, error) {
	if channels, ok := r.cache.Get(userID); ok {
		return channels, nil
	}

	res, err, _ := r.group.Do(userID.String(), func() (any, error) {
		channels, err := r.next.ListUserChannels(ctx, userID)
		if err != nil {
			return nil, err
		}
		r.cache.Add(userID, channels)
		return channels, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]model.ChannelID), nil
}

func (r *CachedResolver) Invalidate(userID uuid.UUID) {
	r.cache.Remove(userID)
}
