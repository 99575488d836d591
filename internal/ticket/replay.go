package ticket

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Replay store backends.
const (
	ModeRedis  = "redis"
	ModeMemory = "memory"
)

// ReplayStore remembers redeemed ticket ids for their remaining lifetime.
type ReplayStore interface {
	// MarkUsed records the jti. It returns false when the id had already
	// been recorded, which means the ticket is being replayed.
	MarkUsed(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	Mode() string
}

const redisKeyPrefix = "pocketbrain:pbst:jti:"

// RedisReplayStore shares replay state across instances.
type RedisReplayStore struct {
	client *redis.Client
}

func NewRedisReplayStore(client *redis.Client) *RedisReplayStore {
	return &RedisReplayStore{client: client}
}

func (s *RedisReplayStore) MarkUsed(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.client.SetNX(ctx, redisKeyPrefix+jti, "1", ttl).Result()
}

func (s *RedisReplayStore) Mode() string { return ModeRedis }

// MemoryReplayStore is the single-instance fallback when redis is not
// configured. Expired ids are swept opportunistically on writes.
type MemoryReplayStore struct {
	mu          sync.Mutex
	used        map[string]time.Time
	lastCleanup time.Time
}

func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{
		used:        make(map[string]time.Time),
		lastCleanup: time.Now(),
	}
}

func (s *MemoryReplayStore) MarkUsed(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.used[jti]; ok && now.Before(exp) {
		return false, nil
	}
	s.used[jti] = now.Add(ttl)

	if now.Sub(s.lastCleanup) > time.Minute {
		for id, exp := range s.used {
			if now.After(exp) {
				delete(s.used, id)
			}
		}
		s.lastCleanup = now
	}
	return true, nil
}

func (s *MemoryReplayStore) Mode() string { return ModeMemory }
