package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"botarena/internal/common/cache"
	"botarena/internal/coordinator/model"
	appErr "botarena/pkg/errors"
)

const statusKeyPrefix = "arena:task:status:"

// StatusCache keeps a short-lived copy of each user's task record so the
// interactive status poll from the editor does not hit the task store.
type StatusCache struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewStatusCache creates a status cache with the given TTL.
func NewStatusCache(cacheClient cache.Cache, ttl time.Duration) *StatusCache {
	return &StatusCache{cache: cacheClient, TTL: ttl}
}

// Get returns the cached task record, or NotFound when absent or expired.
func (c *StatusCache) Get(ctx context.Context, userID int64) (*model.TaskRecord, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "must be positive")
	}
	if c.cache == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := c.cache.Get(ctx, statusKey(userID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read cached status failed")
	}
	if val == "" {
		return nil, appErr.New(appErr.NotFound).WithMessage("task status not cached")
	}
	var task model.TaskRecord
	if err := json.Unmarshal([]byte(val), &task); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decode cached status failed")
	}
	return &task, nil
}

// Save stores the task record under the user's key.
func (c *StatusCache) Save(ctx context.Context, task *model.TaskRecord) error {
	if task == nil || task.UserID <= 0 {
		return appErr.ValidationError("task", "required")
	}
	if c.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task status failed: %w", err)
	}
	if err := c.cache.Set(ctx, statusKey(task.UserID), string(data), c.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store task status failed")
	}
	return nil
}

// Invalidate drops the cached record after a write to the task store.
func (c *StatusCache) Invalidate(ctx context.Context, userID int64) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Del(ctx, statusKey(userID))
}

func statusKey(userID int64) string {
	return statusKeyPrefix + strconv.FormatInt(userID, 10)
}
