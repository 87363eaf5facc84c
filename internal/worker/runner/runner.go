package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"botarena/internal/coordinator/model"
	"botarena/internal/worker/backend"
	"botarena/internal/worker/compiler"
	"botarena/internal/worker/sandbox"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/logger"
)

// MatchExecutor runs one engine invocation over prepared participants.
type MatchExecutor interface {
	RunMatch(ctx context.Context, params map[string]interface{}, participants []sandbox.Participant, slots []sandbox.Slot) (*sandbox.MatchOutcome, error)
}

// Runner executes one claimed task end to end and reports the result back
// to the coordinator. Each Run* method owns the full lifecycle of its task;
// a returned error means the attempt failed and the task stays with the
// coordinator's retry accounting.
type Runner struct {
	Backend  *backend.Client
	Compiler *compiler.Driver
	Executor MatchExecutor
	Slots    *sandbox.SlotAllocator
	WorkRoot string
}

// NewRunner wires a task runner.
func NewRunner(client *backend.Client, driver *compiler.Driver, executor MatchExecutor, slots *sandbox.SlotAllocator, workRoot string) *Runner {
	return &Runner{
		Backend:  client,
		Compiler: driver,
		Executor: executor,
		Slots:    slots,
		WorkRoot: workRoot,
	}
}

// RunCompile fetches a submitted source archive, builds it, uploads the
// compiled archive on success, and reports the outcome either way.
func (r *Runner) RunCompile(ctx context.Context, task backend.CompileTask) error {
	logger.Info(ctx, "compile task start",
		zap.Int64("user_id", task.UserID), zap.Int64("bot_id", task.BotID))

	source, err := r.Backend.FetchBot(ctx, task.UserID, task.BotID, false)
	if err != nil {
		return err
	}

	scratch := filepath.Join(r.WorkRoot, fmt.Sprintf("compile_%d_%d", task.UserID, task.BotID))
	result := r.Compiler.Compile(ctx, source, scratch)
	if !result.Success {
		logger.Info(ctx, "compile task failed",
			zap.Int64("user_id", task.UserID), zap.Int64("bot_id", task.BotID),
			zap.String("language", result.Language))
		return r.Backend.PostCompileResult(ctx, task.UserID, task.BotID, false, result.Language, result.Diagnostics)
	}

	if err := r.Backend.UploadBot(ctx, task.UserID, task.BotID, result.Archive); err != nil {
		return err
	}
	return r.Backend.PostCompileResult(ctx, task.UserID, task.BotID, true, result.Language, "")
}

// RunGame runs one ranked match and posts its result.
func (r *Runner) RunGame(ctx context.Context, task backend.GameTask) error {
	logger.Info(ctx, "game task start",
		zap.Int64("task_id", task.TaskID), zap.Int("participants", len(task.Users)))

	participants, err := r.fetchParticipants(ctx, task.Users)
	if err != nil {
		return err
	}
	slots, err := r.Slots.Allocate(len(participants))
	if err != nil {
		return err
	}

	outcome, err := r.Executor.RunMatch(ctx, task.EnvironmentParameters, participants, slots)
	if err != nil {
		return err
	}
	if outcome.Kind == sandbox.OutcomeCompileFailure {
		// Ranked matches run pre-compiled archives; a build failure here
		// means a corrupt or mislabeled upload, not a user mistake.
		return appErr.Newf(appErr.MatchAborted, "ranked participant failed to build: %v", outcome.CompileFailures)
	}

	users, output, err := assembleResult(task.Users, outcome)
	if err != nil {
		return err
	}
	return r.Backend.PostGameResult(ctx, users, output, outcome.ReplayData, logUploads(users, outcome))
}

// RunOndemand runs one interactive session match. A participant compile
// failure is reported through the dedicated compile-error path and does not
// produce a game result.
func (r *Runner) RunOndemand(ctx context.Context, task backend.OndemandTask) error {
	logger.Info(ctx, "session task start",
		zap.Int64("user_id", task.UserID), zap.Int("participants", len(task.Users)))

	participants, err := r.fetchParticipants(ctx, task.Users)
	if err != nil {
		return err
	}
	slots, err := r.Slots.Allocate(len(participants))
	if err != nil {
		return err
	}

	params := task.EnvironmentParameters
	if len(task.Snapshot) > 0 {
		snapshotPath, cleanup, err := r.stageSnapshot(task.Snapshot)
		if err != nil {
			return err
		}
		defer cleanup()
		params = cloneParams(params)
		params["from-snapshot"] = snapshotPath
	}

	outcome, err := r.Executor.RunMatch(ctx, params, participants, slots)
	if err != nil {
		return err
	}
	if outcome.Kind == sandbox.OutcomeCompileFailure {
		return r.Backend.PostOndemandError(ctx, task.UserID, firstDiagnostics(outcome.CompileFailures))
	}

	users, output, err := assembleResult(task.Users, outcome)
	if err != nil {
		return err
	}
	var objective *model.Objective
	if len(outcome.Output.Objective) > 0 {
		objective = &model.Objective{}
		if err := json.Unmarshal(outcome.Output.Objective, objective); err != nil {
			logger.Warn(ctx, "engine objective unreadable", zap.Error(err))
			objective = nil
		}
	}
	return r.Backend.PostOndemandResult(ctx, task.UserID, output, outcome.ReplayData,
		logUploads(users, outcome), outcome.Output.FinalSnapshot, objective)
}

// fetchParticipants downloads every participant's archive. Pre-compiled
// bots come from compiled storage; live-edit bots ship source and get
// built during match setup.
func (r *Runner) fetchParticipants(ctx context.Context, users []model.Opponent) ([]sandbox.Participant, error) {
	participants := make([]sandbox.Participant, len(users))
	for i, user := range users {
		data, err := r.Backend.FetchBot(ctx, user.UserID, user.BotID, !user.RequiresCompilation)
		if err != nil {
			return nil, err
		}
		participants[i] = sandbox.Participant{
			UserID:              user.UserID,
			BotID:               user.BotID,
			Username:            user.Username,
			RequiresCompilation: user.RequiresCompilation,
			Archive:             data,
		}
	}
	return participants, nil
}

// stageSnapshot writes the session snapshot where the engine can read it.
func (r *Runner) stageSnapshot(snapshot json.RawMessage) (string, func(), error) {
	file, err := os.CreateTemp(r.WorkRoot, "snapshot-*.json")
	if err != nil {
		return "", nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "stage snapshot failed")
	}
	path := file.Name()
	if _, err := file.Write(snapshot); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "stage snapshot failed")
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", nil, appErr.Wrapf(err, appErr.SandboxSetupFailed, "stage snapshot failed")
	}
	return path, func() { _ = os.Remove(path) }, nil
}

// assembleResult merges the engine's per-index output into the task's
// participant list and the stored game output. Output lacking a stats
// entry for any participant is rejected rather than scored as rank 0.
func assembleResult(users []model.Opponent, outcome *sandbox.MatchOutcome) ([]model.ParticipantResult, *model.GameOutput, error) {
	engineOut := outcome.Output
	results := make([]model.ParticipantResult, len(users))
	stats := make(map[string]model.ParticipantStats, len(engineOut.Stats))
	for i, user := range users {
		key := strconv.Itoa(i)
		stat, ok := engineOut.Stats[key]
		if !ok {
			return nil, nil, appErr.Newf(appErr.EngineOutputInvalid, "engine reported no stats for participant %d", i)
		}
		results[i] = model.ParticipantResult{
			Opponent: user,
			Rank:     stat.Rank,
			TimedOut: engineOut.Terminated[key],
		}
		if _, ok := outcome.Logs[i]; ok {
			results[i].LogName = logName(user)
		}
		stats[key] = model.ParticipantStats{Rank: stat.Rank}
	}

	output := &model.GameOutput{
		Replay:       engineOut.Replay,
		ErrorLogs:    engineOut.ErrorLogs,
		MapWidth:     engineOut.MapWidth,
		MapHeight:    engineOut.MapHeight,
		MapSeed:      engineOut.MapSeed,
		MapGenerator: engineOut.MapGenerator,
		Stats:        stats,
		Terminated:   engineOut.Terminated,
	}
	return results, output, nil
}

// logUploads builds the multipart file set for scraped bot logs, keyed by
// the log names announced in the participant results.
func logUploads(results []model.ParticipantResult, outcome *sandbox.MatchOutcome) map[string][]byte {
	if len(outcome.Logs) == 0 {
		return nil
	}
	files := make(map[string][]byte, len(outcome.Logs))
	for i, text := range outcome.Logs {
		if i < 0 || i >= len(results) || results[i].LogName == "" {
			continue
		}
		files[results[i].LogName] = []byte(text)
	}
	return files
}

func logName(user model.Opponent) string {
	return fmt.Sprintf("%d_%d_%s.log", user.UserID, user.BotID, user.Username)
}

func firstDiagnostics(failures map[int]string) string {
	for _, text := range failures {
		return text
	}
	return "compilation failed"
}

func cloneParams(params map[string]interface{}) map[string]interface{} {
	clone := make(map[string]interface{}, len(params)+1)
	for key, value := range params {
		clone[key] = value
	}
	return clone
}
