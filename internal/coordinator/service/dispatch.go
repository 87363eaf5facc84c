package service

import (
	"context"
	"time"

	"botarena/internal/coordinator/model"
	"botarena/internal/coordinator/repository"
)

// DispatchConfig bounds how queued ranked work is recycled.
type DispatchConfig struct {
	StalenessWindow time.Duration `yaml:"stalenessWindow"`
	MaxRetries      int           `yaml:"maxRetries"`
}

// SetDefaults fills unset fields with the standard policy.
func (c *DispatchConfig) SetDefaults() {
	if c.StalenessWindow == 0 {
		c.StalenessWindow = 5 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// DispatchService answers the worker task poll. Compile tasks go first so
// fresh uploads unblock quickly, then on-demand sessions, then ranked games.
type DispatchService struct {
	queue  repository.MatchQueue
	claim  *ClaimService
	config DispatchConfig
	now    func() time.Time
}

// NewDispatchService creates a dispatch service.
func NewDispatchService(queue repository.MatchQueue, claim *ClaimService, config DispatchConfig) *DispatchService {
	config.SetDefaults()
	return &DispatchService{queue: queue, claim: claim, config: config, now: time.Now}
}

// NextTask hands out at most one task matching the worker's capabilities.
// An empty capability list means the worker takes anything.
func (s *DispatchService) NextTask(ctx context.Context, capabilities []string) (*model.TaskEnvelope, error) {
	wants := capabilitySet(capabilities)
	olderThan := s.now().Add(-s.config.StalenessWindow)

	if wants(model.TaskTypeCompile) {
		task, err := s.queue.ClaimNext(ctx, []model.MatchTaskKind{model.MatchTaskCompile}, olderThan, s.config.MaxRetries)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return &model.TaskEnvelope{
				Type: model.TaskTypeCompile,
				User: task.UserID,
				Bot:  task.BotID,
			}, nil
		}
	}

	if wants(model.TaskTypeOndemand) {
		task, err := s.claim.ClaimNext(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return &model.TaskEnvelope{
				Type:                  model.TaskTypeOndemand,
				User:                  task.UserID,
				Users:                 task.Opponents,
				EnvironmentParameters: task.EnvironmentParameters,
				Snapshot:              task.LatestSnapshot(),
				Metadata:              task.Metadata,
			}, nil
		}
	}

	if wants(model.TaskTypeGame) {
		task, err := s.queue.ClaimNext(ctx, []model.MatchTaskKind{model.MatchTaskGame}, olderThan, s.config.MaxRetries)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return &model.TaskEnvelope{
				Type:                  model.TaskTypeGame,
				TaskID:                task.ID,
				Users:                 task.Participants,
				EnvironmentParameters: task.EnvironmentParameters,
			}, nil
		}
	}

	return model.NoTask(), nil
}

func capabilitySet(capabilities []string) func(string) bool {
	if len(capabilities) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(capabilities))
	for _, capability := range capabilities {
		set[capability] = true
	}
	return func(kind string) bool { return set[kind] }
}
