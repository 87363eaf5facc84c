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

// ResultService ingests worker result posts: stores artifacts, finalizes
// task records, updates ratings for ranked games, and publishes events.
type ResultService struct {
	store       repository.TaskStore
	queue       repository.MatchQueue
	blobs       *repository.BlobRepository
	ratings     repository.RatingRepository
	updater     RatingUpdater
	events      repository.EventPublisher
	statusCache *repository.StatusCache
}

// NewResultService creates a result ingestion service.
func NewResultService(
	store repository.TaskStore,
	queue repository.MatchQueue,
	blobs *repository.BlobRepository,
	ratings repository.RatingRepository,
	updater RatingUpdater,
	events repository.EventPublisher,
	statusCache *repository.StatusCache,
) *ResultService {
	return &ResultService{
		store:       store,
		queue:       queue,
		blobs:       blobs,
		ratings:     ratings,
		updater:     updater,
		events:      events,
		statusCache: statusCache,
	}
}

// RecordOndemandResult finalizes an on-demand task: uploads the replay and
// participant logs, records the engine output, and publishes the terminal
// status.
func (s *ResultService) RecordOndemandResult(ctx context.Context, userID int64, output *model.GameOutput, replay []byte, logs map[string][]byte, snapshot json.RawMessage, objective *model.Objective) error {
	if output == nil {
		return appErr.ValidationError("game_output", "required")
	}
	if len(replay) > 0 && output.Replay != "" {
		if err := s.blobs.PutReplay(ctx, output.Replay, replay); err != nil {
			return err
		}
	}
	s.storeLogs(ctx, logs)

	if err := s.store.Complete(ctx, userID, output, snapshot, objective); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.publishFinal(ctx, userID)
	return nil
}

// RecordOndemandCompileError marks the task failed with the captured
// compile diagnostics. This is the pre-match compile failure path, distinct
// from a game that ran and crashed.
func (s *ResultService) RecordOndemandCompileError(ctx context.Context, userID int64, compileError string) error {
	if err := s.store.FailCompile(ctx, userID, compileError); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.publishFinal(ctx, userID)
	return nil
}

// RecordCompileResult resolves a ranked compile task. Success and failure
// both retire the queue entry; failure diagnostics travel to the user
// through the web layer, not this core.
func (s *ResultService) RecordCompileResult(ctx context.Context, userID, botID int64, didCompile bool, language, diagnostics string) error {
	if err := s.queue.CompleteFor(ctx, model.MatchTaskCompile, userID, botID); err != nil {
		if !appErr.Is(err, appErr.TaskNotFound) {
			return err
		}
		logger.Warn(ctx, "compile result for unknown task",
			zap.Int64("user_id", userID), zap.Int64("bot_id", botID))
	}
	if didCompile {
		logger.Info(ctx, "bot compiled",
			zap.Int64("user_id", userID), zap.Int64("bot_id", botID),
			zap.String("language", language))
		return nil
	}
	logger.Info(ctx, "bot compile failed",
		zap.Int64("user_id", userID), zap.Int64("bot_id", botID),
		zap.String("diagnostics", diagnostics))
	return nil
}

// RecordGameResult ingests a ranked match: stores artifacts, retires the
// queue entry, and runs the rating update under the participants' ranks.
func (s *ResultService) RecordGameResult(ctx context.Context, users []model.ParticipantResult, output *model.GameOutput, replay []byte, logs map[string][]byte) error {
	if len(users) == 0 {
		return appErr.ValidationError("users", "required")
	}
	if output == nil {
		return appErr.ValidationError("game_output", "required")
	}
	if len(replay) > 0 && output.Replay != "" {
		if err := s.blobs.PutReplay(ctx, output.Replay, replay); err != nil {
			return err
		}
	}
	s.storeLogs(ctx, logs)

	if err := s.queue.CompleteFor(ctx, model.MatchTaskGame, users[0].UserID, users[0].BotID); err != nil {
		if !appErr.Is(err, appErr.TaskNotFound) {
			return err
		}
		logger.Warn(ctx, "game result for unknown task",
			zap.Int64("user_id", users[0].UserID), zap.Int64("bot_id", users[0].BotID))
	}

	return s.updateRatings(ctx, users)
}

func (s *ResultService) updateRatings(ctx context.Context, users []model.ParticipantResult) error {
	ranks := make([]int, len(users))
	prior := make([]model.Rating, len(users))
	rows := make([]model.BotRating, len(users))
	for i, user := range users {
		row, err := s.ratings.Get(ctx, user.UserID, user.BotID)
		if err != nil {
			return err
		}
		ranks[i] = user.Rank
		prior[i] = row.Rating
		rows[i] = *row
	}

	updated := s.updater.Update(ranks, prior)
	if len(updated) != len(rows) {
		return appErr.New(appErr.RatingUpdateFailed).WithMessage("updater returned wrong participant count")
	}
	for i := range rows {
		rows[i].Rating = updated[i]
		rows[i].Score = updated[i].Score()
	}
	if err := s.ratings.UpdateBatch(ctx, rows); err != nil {
		return err
	}

	if s.events != nil {
		if err := s.events.PublishRatingChange(ctx, rows); err != nil {
			logger.Warn(ctx, "publish rating event failed", zap.Error(err))
		}
	}
	return nil
}

func (s *ResultService) storeLogs(ctx context.Context, logs map[string][]byte) {
	for name, content := range logs {
		if err := s.blobs.PutLog(ctx, name, content); err != nil {
			logger.Warn(ctx, "store participant log failed",
				zap.String("log", name), zap.Error(err))
		}
	}
}

func (s *ResultService) publishFinal(ctx context.Context, userID int64) {
	if s.events == nil {
		return
	}
	task, err := s.store.Get(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "read task for event failed",
			zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if err := s.events.PublishTaskFinal(ctx, task); err != nil {
		logger.Warn(ctx, "publish task event failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *ResultService) invalidate(ctx context.Context, userID int64) {
	if s.statusCache == nil {
		return
	}
	if err := s.statusCache.Invalidate(ctx, userID); err != nil {
		logger.Warn(ctx, "invalidate task status cache failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}
