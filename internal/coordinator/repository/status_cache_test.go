package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"botarena/internal/common/cache"
	"botarena/internal/coordinator/model"
	appErr "botarena/pkg/errors"
)

func newTestStatusCache(t *testing.T) (*StatusCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("init redis cache failed: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	return NewStatusCache(redisCache, time.Minute), server
}

func TestStatusCacheRoundTrip(t *testing.T) {
	t.Parallel()
	statusCache, _ := newTestStatusCache(t)
	ctx := context.Background()

	task := &model.TaskRecord{
		UserID:  42,
		Status:  model.StatusRunning,
		Retries: 2,
		Opponents: []model.Opponent{
			{UserID: 42, BotID: 7, Username: "alice", VersionNumber: 3},
		},
		LastUpdated: time.Now().UTC().Truncate(time.Second),
	}
	if err := statusCache.Save(ctx, task); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := statusCache.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.StatusRunning || got.Retries != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.Opponents) != 1 || got.Opponents[0].Username != "alice" {
		t.Fatalf("opponents not preserved: %+v", got.Opponents)
	}
}

func TestStatusCacheMissIsNotFound(t *testing.T) {
	t.Parallel()
	statusCache, _ := newTestStatusCache(t)

	_, err := statusCache.Get(context.Background(), 99)
	if !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestStatusCacheExpiry(t *testing.T) {
	t.Parallel()
	statusCache, server := newTestStatusCache(t)
	ctx := context.Background()

	task := &model.TaskRecord{UserID: 5, Status: model.StatusPending}
	if err := statusCache.Save(ctx, task); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	server.FastForward(2 * time.Minute)

	_, err := statusCache.Get(ctx, 5)
	if !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected NotFound after expiry, got %v", err)
	}
}

func TestStatusCacheInvalidate(t *testing.T) {
	t.Parallel()
	statusCache, _ := newTestStatusCache(t)
	ctx := context.Background()

	task := &model.TaskRecord{UserID: 8, Status: model.StatusCompleted}
	if err := statusCache.Save(ctx, task); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := statusCache.Invalidate(ctx, 8); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	_, err := statusCache.Get(ctx, 8)
	if !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected NotFound after invalidate, got %v", err)
	}
}

func TestStatusCacheRejectsInvalidUser(t *testing.T) {
	t.Parallel()
	statusCache, _ := newTestStatusCache(t)

	if _, err := statusCache.Get(context.Background(), 0); err == nil {
		t.Fatalf("expected validation error for user id 0")
	}
	if err := statusCache.Save(context.Background(), nil); err == nil {
		t.Fatalf("expected validation error for nil task")
	}
}
