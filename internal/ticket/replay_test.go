package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisReplayStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisReplayStore(client)
	ctx := context.Background()

	if store.Mode() != ModeRedis {
		t.Fatalf("Mode = %q", store.Mode())
	}

	fresh, err := store.MarkUsed(ctx, "jti-1", 30*time.Second)
	if err != nil || !fresh {
		t.Fatalf("first MarkUsed = %v, %v", fresh, err)
	}
	fresh, err = store.MarkUsed(ctx, "jti-1", 30*time.Second)
	if err != nil || fresh {
		t.Fatalf("replayed MarkUsed = %v, %v; want false", fresh, err)
	}

	// The hold expires with the ticket lifetime.
	mr.FastForward(31 * time.Second)
	fresh, err = store.MarkUsed(ctx, "jti-1", 30*time.Second)
	if err != nil || !fresh {
		t.Fatalf("MarkUsed after expiry = %v, %v", fresh, err)
	}

	// Sub-second remainders are clamped so the key still lands with a ttl.
	if _, err := store.MarkUsed(ctx, "jti-2", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(redisKeyPrefix + "jti-2"); ttl < 500*time.Millisecond {
		t.Errorf("ttl = %v, want clamped to at least 1s", ttl)
	}
}

func TestServiceWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService("test-ticket-secret", time.Minute, NewRedisReplayStore(client), true)
	tok, _, err := svc.Mint("user_1", "device-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Consume(context.Background(), tok); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := svc.Consume(context.Background(), tok); err == nil {
		t.Fatal("replay must be rejected across the shared store")
	}
}
