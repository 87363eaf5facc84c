package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"botarena/internal/coordinator/model"
	"botarena/internal/coordinator/repository"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/logger"
)

// OndemandService manages interactive sessions: launching a task, polling
// its status, and continuing a completed session from its latest snapshot.
type OndemandService struct {
	store       repository.TaskStore
	statusCache *repository.StatusCache
}

// NewOndemandService creates an on-demand session service.
func NewOndemandService(store repository.TaskStore, statusCache *repository.StatusCache) *OndemandService {
	return &OndemandService{store: store, statusCache: statusCache}
}

// Launch queues a fresh task for the user. A user whose previous task is
// still pending or running gets TaskAlreadyQueued.
func (s *OndemandService) Launch(ctx context.Context, userID int64, opponents []model.Opponent, params map[string]interface{}, metadata json.RawMessage) error {
	if userID <= 0 {
		return appErr.ValidationError("user_id", "must be positive")
	}
	if len(opponents) == 0 {
		return appErr.ValidationError("opponents", "required")
	}
	task := &model.TaskRecord{
		UserID:                userID,
		Status:                model.StatusPending,
		Opponents:             opponents,
		EnvironmentParameters: params,
		Metadata:              metadata,
	}
	if err := s.store.Launch(ctx, task); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Status returns the user's task record, serving from the cache when fresh.
func (s *OndemandService) Status(ctx context.Context, userID int64) (*model.TaskRecord, error) {
	if s.statusCache != nil {
		if task, err := s.statusCache.Get(ctx, userID); err == nil {
			return task, nil
		}
	}
	task, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.statusCache != nil {
		if err := s.statusCache.Save(ctx, task); err != nil {
			logger.Warn(ctx, "cache task status failed", zap.Error(err))
		}
	}
	return task, nil
}

// Continue recycles a completed task back to pending. The worker resumes
// from the latest snapshot; tasks in any other state are not continuable.
func (s *OndemandService) Continue(ctx context.Context, userID int64, params map[string]interface{}) error {
	task, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if task.Status != model.StatusCompleted {
		return appErr.New(appErr.TaskNotContinuable).
			WithDetail("status", string(task.Status))
	}
	if len(task.Snapshots) == 0 {
		return appErr.New(appErr.SnapshotNotFound)
	}
	if err := s.store.Requeue(ctx, userID, params); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *OndemandService) invalidate(ctx context.Context, userID int64) {
	if s.statusCache == nil {
		return
	}
	if err := s.statusCache.Invalidate(ctx, userID); err != nil {
		logger.Warn(ctx, "invalidate task status cache failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}
