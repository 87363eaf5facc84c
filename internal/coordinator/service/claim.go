package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"botarena/internal/coordinator/model"
	"botarena/internal/coordinator/repository"
	"botarena/pkg/utils/logger"
)

// ClaimConfig holds the policy knobs of the claim protocol. The defaults
// match the production fleet; none of them are hard requirements.
type ClaimConfig struct {
	// StalenessWindow is how long a running task may go without an update
	// before its worker is presumed dead.
	StalenessWindow time.Duration `yaml:"stalenessWindow"`

	// MaxRetries bounds how often a task may be (re)claimed before it is
	// permanently failed.
	MaxRetries int `yaml:"maxRetries"`

	// Backoff settings applied when a claim races another coordinator call.
	BackoffInitial time.Duration `yaml:"backoffInitial"`
	BackoffCeiling time.Duration `yaml:"backoffCeiling"`

	// Order selects which claimable task wins. Newest-first keeps
	// interactive sessions responsive at the cost of possibly starving
	// old tasks under sustained load.
	Order repository.ClaimOrder `yaml:"order"`
}

// SetDefaults fills unset fields with the standard policy.
func (c *ClaimConfig) SetDefaults() {
	if c.StalenessWindow == 0 {
		c.StalenessWindow = 5 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffCeiling == 0 {
		c.BackoffCeiling = 16 * time.Second
	}
	if c.Order == "" {
		c.Order = repository.OrderNewestFirst
	}
}

// ClaimService hands out on-demand tasks to workers. At most one caller
// observes any task's transition to running; losers back off and retry.
type ClaimService struct {
	store  repository.TaskStore
	config ClaimConfig

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// NewClaimService creates a claim service with the given policy.
func NewClaimService(store repository.TaskStore, config ClaimConfig) *ClaimService {
	config.SetDefaults()
	return &ClaimService{
		store:  store,
		config: config,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// ClaimNext finds an assignable task and atomically transitions it to
// running. Stale running tasks are preferred over pending ones so orphaned
// work recovers first. Returns nil with no error when nothing is claimable.
func (s *ClaimService) ClaimNext(ctx context.Context) (*model.TaskRecord, error) {
	backoff := s.config.BackoffInitial

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		olderThan := s.now().Add(-s.config.StalenessWindow)

		candidate, err := s.store.NextStaleRunning(ctx, olderThan, s.config.Order)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			candidate, err = s.store.NextPending(ctx, s.config.Order)
			if err != nil {
				return nil, err
			}
		}
		if candidate == nil {
			return nil, nil
		}

		outcome, task, err := s.store.TryClaim(ctx, candidate.UserID, olderThan, s.config.MaxRetries)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case repository.ClaimGranted:
			logger.Info(ctx, "task claimed",
				zap.Int64("user_id", task.UserID),
				zap.Int("retries", task.Retries))
			return task, nil
		case repository.ClaimAbandoned:
			logger.Warn(ctx, "task abandoned after retry exhaustion",
				zap.Int64("user_id", candidate.UserID),
				zap.Int("retries", candidate.Retries))
			// The abandoned task is out of the running; look for another
			// candidate right away.
			continue
		case repository.ClaimLost:
			logger.Debug(ctx, "claim race lost, backing off",
				zap.Int64("user_id", candidate.UserID),
				zap.Duration("backoff", backoff))
			s.sleep(ctx, backoff)
			backoff *= 2
			if backoff > s.config.BackoffCeiling {
				backoff = s.config.BackoffCeiling
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
