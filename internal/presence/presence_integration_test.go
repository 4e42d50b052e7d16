package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func integrationTracker(t *testing.T) *Tracker {
	t.Helper()
	_ = godotenv.Load("../../.env")

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL is not set; skipping presence integration test")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unavailable: %v", err)
	}

	tracker := NewTrackerWithClient(client, time.Minute)
	t.Cleanup(func() { _ = tracker.Close() })
	return tracker
}

func TestTrackerCountsConnectionsPerUser(t *testing.T) {
	ctx := context.Background()
	tracker := integrationTracker(t)

	userID := time.Now().UnixNano()
	other := userID + 1
	t.Cleanup(func() {
		_ = tracker.client.Del(ctx, presenceKey(userID), presenceKey(other)).Err()
	})

	if err := tracker.Online(ctx, userID); err != nil {
		t.Fatalf("Online: %v", err)
	}
	if err := tracker.Online(ctx, userID); err != nil {
		t.Fatalf("Online: %v", err)
	}

	online, err := tracker.OnlineAmong(ctx, []int64{userID, other})
	if err != nil {
		t.Fatalf("OnlineAmong: %v", err)
	}
	if len(online) != 1 || online[0] != userID {
		t.Fatalf("expected only %d online, got %v", userID, online)
	}

	if err := tracker.Offline(ctx, userID); err != nil {
		t.Fatalf("Offline: %v", err)
	}
	online, _ = tracker.OnlineAmong(ctx, []int64{userID})
	if len(online) != 1 {
		t.Fatalf("user with a remaining connection should stay online")
	}

	if err := tracker.Offline(ctx, userID); err != nil {
		t.Fatalf("Offline: %v", err)
	}
	online, _ = tracker.OnlineAmong(ctx, []int64{userID})
	if len(online) != 0 {
		t.Fatalf("expected user offline after last connection closed, got %v", online)
	}
}

func TestOnlineAmongEmptyInput(t *testing.T) {
	tracker := &Tracker{}
	online, err := tracker.OnlineAmong(context.Background(), nil)
	if err != nil || len(online) != 0 {
		t.Fatalf("expected empty result, got %v (%v)", online, err)
	}
}
