package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return client, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestReceiptDedup_FirstSighting(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	dedup := NewReceiptDedup(client, zap.NewNop())

	seen, err := dedup.Seen(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Error("first sighting must report seen=false")
	}
}

func TestReceiptDedup_Redelivery(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	dedup := NewReceiptDedup(client, zap.NewNop())
	ctx := context.Background()

	if _, err := dedup.Seen(ctx, "msg-1"); err != nil {
		t.Fatalf("first check failed: %v", err)
	}

	seen, err := dedup.Seen(ctx, "msg-1")
	if err != nil {
		t.Fatalf("second check failed: %v", err)
	}
	if !seen {
		t.Error("redelivered receipt must report seen=true")
	}
}

func TestReceiptDedup_DistinctMessages(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	dedup := NewReceiptDedup(client, zap.NewNop())
	ctx := context.Background()

	if _, err := dedup.Seen(ctx, "msg-1"); err != nil {
		t.Fatalf("first check failed: %v", err)
	}

	seen, err := dedup.Seen(ctx, "msg-2")
	if err != nil {
		t.Fatalf("second check failed: %v", err)
	}
	if seen {
		t.Error("a different message ID must not collide")
	}
}

func TestReceiptDedup_ForgetReleasesClaim(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	dedup := NewReceiptDedup(client, zap.NewNop())
	ctx := context.Background()

	if _, err := dedup.Seen(ctx, "msg-1"); err != nil {
		t.Fatalf("first check failed: %v", err)
	}

	if err := dedup.Forget(ctx, "msg-1"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}

	seen, err := dedup.Seen(ctx, "msg-1")
	if err != nil {
		t.Fatalf("post-forget check failed: %v", err)
	}
	if seen {
		t.Error("a forgotten ID must be treated as new again")
	}
}

func TestReceiptDedup_ExpiryReopensWindow(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	dedup := NewReceiptDedup(client, zap.NewNop())
	ctx := context.Background()

	if _, err := dedup.Seen(ctx, "msg-1"); err != nil {
		t.Fatalf("first check failed: %v", err)
	}

	mr.FastForward(ReceiptTTL + time.Minute)

	seen, err := dedup.Seen(ctx, "msg-1")
	if err != nil {
		t.Fatalf("post-expiry check failed: %v", err)
	}
	if seen {
		t.Error("an expired entry no longer dedups")
	}
}
