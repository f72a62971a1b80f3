package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/im-routing-service/internal/domain/index"
)

// Sweeper detects implicit TTL expiry: a user whose liveness key stopped
// renewing without ever emitting an explicit offline transition. The presence
// stream renews deadlines via Touch; the sweep loop evicts everyone whose
// deadline lapsed.
type Sweeper struct {
	index  index.Indexer
	logger *slog.Logger

	ttl      time.Duration
	interval time.Duration

	mu       sync.Mutex
	lastSeen map[uuid.UUID]time.Time

	doneCh   chan struct{}
	stopOnce sync.Once
	stopped  sync.WaitGroup
}

func NewSweeper(idx index.Indexer, logger *slog.Logger, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		index:    idx,
		logger:   logger,
		ttl:      ttl,
		interval: interval,
		lastSeen: make(map[uuid.UUID]time.Time),
		doneCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Touch(userID uuid.UUID) {
	s.mu.Lock()
	s.lastSeen[userID] = time.Now()
	s.mu.Unlock()
}

func (s *Sweeper) Forget(userID uuid.UUID) {
	s.mu.Lock()
	delete(s.lastSeen, userID)
	s.mu.Unlock()
}

func (s *Sweeper) Start(ctx context.Context) {
	s.stopped.Add(1)
	go s.loop(ctx)
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.doneCh) })
	s.stopped.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.stopped.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.doneCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	deadline := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []uuid.UUID
	for userID, seen := range s.lastSeen {
		if seen.Before(deadline) {
			expired = append(expired, userID)
			delete(s.lastSeen, userID)
		}
	}
	s.mu.Unlock()

	for _, userID := range expired {
		// Forced eviction: TTL expiry carries no sequence of its own.
		s.index.EvictUser(userID, 0)
		s.logger.Debug("PRESENCE_TTL_EXPIRED", "user_id", userID)
	}
	if len(expired) > 0 {
		s.logger.Info("PRESENCE_SWEEP_EVICTED", "users", len(expired))
	}
}
