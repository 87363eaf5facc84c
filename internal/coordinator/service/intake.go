package service

import (
	"context"
	"io"

	"go.uber.org/zap"

	"botarena/internal/coordinator/model"
	"botarena/internal/coordinator/repository"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/logger"
)

// IntakeService accepts work from the web side: fresh bot uploads that
// need compiling, and ranked matches produced by the matchmaker.
type IntakeService struct {
	blobs *repository.BlobRepository
	queue repository.MatchQueue
}

// NewIntakeService creates an intake service.
func NewIntakeService(blobs *repository.BlobRepository, queue repository.MatchQueue) *IntakeService {
	return &IntakeService{blobs: blobs, queue: queue}
}

// SubmitBot stores a source archive and queues it for compilation. The
// upload replaces any previous source for the same bot; the compiled
// archive only appears once a worker finishes the compile task.
func (s *IntakeService) SubmitBot(ctx context.Context, userID, botID int64, archive io.Reader, size int64) error {
	if userID <= 0 {
		return appErr.ValidationError("user_id", "must be positive")
	}
	if botID < 0 {
		return appErr.ValidationError("bot_id", "must not be negative")
	}
	if size <= 0 {
		return appErr.ValidationError("bot.zip", "empty archive")
	}
	if err := s.blobs.PutBot(ctx, userID, botID, false, archive, size); err != nil {
		return err
	}
	if err := s.queue.EnqueueCompile(ctx, userID, botID); err != nil {
		return err
	}
	logger.Info(ctx, "bot upload accepted",
		zap.Int64("user_id", userID), zap.Int64("bot_id", botID))
	return nil
}

// SubmitMatch queues a ranked game between the given participants.
func (s *IntakeService) SubmitMatch(ctx context.Context, participants []model.Opponent, params map[string]interface{}) error {
	if len(participants) < 2 {
		return appErr.ValidationError("users", "a match needs at least two participants")
	}
	for _, p := range participants {
		if p.BotID < 0 {
			return appErr.ValidationError("users", "bot_id must not be negative")
		}
	}
	return s.queue.EnqueueGame(ctx, participants, params)
}
