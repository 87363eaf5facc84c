package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"botarena/internal/common/db"
	"botarena/internal/coordinator/model"
	appErr "botarena/pkg/errors"
)

// ClaimOrder selects which candidate wins when several tasks are claimable.
// Newest-first favors session continuity for interactive users and can
// starve old tasks under sustained load; oldest-first is plain FIFO.
type ClaimOrder string

const (
	OrderNewestFirst ClaimOrder = "newest"
	OrderOldestFirst ClaimOrder = "oldest"
)

func (o ClaimOrder) sqlDirection() string {
	if o == OrderOldestFirst {
		return "ASC"
	}
	return "DESC"
}

// ClaimOutcome is the result of one transactional claim attempt.
type ClaimOutcome int

const (
	// ClaimGranted means the task transitioned to running for this caller.
	ClaimGranted ClaimOutcome = iota
	// ClaimLost means another claimant moved the task first.
	ClaimLost
	// ClaimAbandoned means the task exhausted its retries and was marked failed.
	ClaimAbandoned
)

// TaskStore persists on-demand task records, one per user. TryClaim is the
// only mutation path that may transition a task to running.
type TaskStore interface {
	// Launch stores a fresh pending task for the user. A user with a task
	// still pending or running gets TaskAlreadyQueued; terminal tasks are
	// replaced.
	Launch(ctx context.Context, task *model.TaskRecord) error

	// Get returns the user's task record, or TaskNotFound.
	Get(ctx context.Context, userID int64) (*model.TaskRecord, error)

	// NextStaleRunning returns the first running task whose last update is
	// older than olderThan, or nil when none qualifies.
	NextStaleRunning(ctx context.Context, olderThan time.Time, order ClaimOrder) (*model.TaskRecord, error)

	// NextPending returns the first pending task, or nil when none exists.
	NextPending(ctx context.Context, order ClaimOrder) (*model.TaskRecord, error)

	// TryClaim re-reads the candidate under a row lock and either grants
	// the claim (status running, retries incremented), abandons it
	// (retries exhausted on a stale task, status failed), or reports the
	// claim lost to a concurrent caller.
	TryClaim(ctx context.Context, userID int64, olderThan time.Time, maxRetries int) (ClaimOutcome, *model.TaskRecord, error)

	// Complete records the engine output, appends an optional snapshot,
	// and transitions the task to completed.
	Complete(ctx context.Context, userID int64, output *model.GameOutput, snapshot json.RawMessage, objective *model.Objective) error

	// FailCompile marks the task failed with captured compile diagnostics.
	FailCompile(ctx context.Context, userID int64, compileError string) error

	// Requeue recycles a completed task back to pending for a continuation.
	// Only completed tasks may be continued; anything else returns
	// TaskNotContinuable.
	Requeue(ctx context.Context, userID int64, params map[string]interface{}) error
}

// MySQLTaskStore implements TaskStore on the ondemand_tasks table.
//
// Schema:
//
//	CREATE TABLE ondemand_tasks (
//	    user_id                BIGINT PRIMARY KEY,
//	    status                 VARCHAR(16) NOT NULL,
//	    opponents              JSON NOT NULL,
//	    environment_parameters JSON NOT NULL,
//	    retries                INT NOT NULL DEFAULT 0,
//	    last_updated           DATETIME(6) NOT NULL,
//	    game_output            JSON NULL,
//	    snapshots              JSON NULL,
//	    objective              JSON NULL,
//	    metadata               JSON NULL,
//	    compile_error          TEXT NULL,
//	    KEY idx_status_updated (status, last_updated)
//	);
type MySQLTaskStore struct {
	database db.Database
	now      func() time.Time
}

// NewMySQLTaskStore creates a task store over the given database.
func NewMySQLTaskStore(database db.Database) *MySQLTaskStore {
	return &MySQLTaskStore{database: database, now: time.Now}
}

const taskColumns = "user_id, status, opponents, environment_parameters, retries, last_updated, game_output, snapshots, objective, metadata, compile_error"

func (s *MySQLTaskStore) Launch(ctx context.Context, task *model.TaskRecord) error {
	if task == nil {
		return appErr.ValidationError("task", "required")
	}
	if task.UserID <= 0 {
		return appErr.ValidationError("user_id", "must be positive")
	}

	opponents, err := json.Marshal(task.Opponents)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "encode opponents failed")
	}
	params, err := json.Marshal(task.EnvironmentParameters)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "encode environment parameters failed")
	}
	metadata := []byte("null")
	if len(task.Metadata) > 0 {
		metadata = task.Metadata
	}

	status := task.Status
	if status == "" {
		status = model.StatusPending
	}

	return s.database.Transaction(ctx, func(tx db.Transaction) error {
		var current string
		err := tx.QueryRow(ctx,
			"SELECT status FROM ondemand_tasks WHERE user_id = ? FOR UPDATE", task.UserID,
		).Scan(&current)
		switch {
		case db.IsNoRows(err):
			_, err = tx.Exec(ctx,
				"INSERT INTO ondemand_tasks ("+taskColumns+") VALUES (?, ?, ?, ?, 0, ?, NULL, NULL, NULL, ?, NULL)",
				task.UserID, string(status), opponents, params, s.now().UTC(), metadata)
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "insert task failed")
			}
			return nil
		case err != nil:
			return appErr.Wrapf(err, appErr.DatabaseError, "read task failed")
		}

		if !model.TaskStatus(current).Terminal() {
			return appErr.New(appErr.TaskAlreadyQueued)
		}

		_, err = tx.Exec(ctx,
			`UPDATE ondemand_tasks
			 SET status = ?, opponents = ?, environment_parameters = ?, retries = 0,
			     last_updated = ?, game_output = NULL, snapshots = NULL, objective = NULL,
			     metadata = ?, compile_error = NULL
			 WHERE user_id = ?`,
			string(status), opponents, params, s.now().UTC(), metadata, task.UserID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "replace task failed")
		}
		return nil
	})
}

func (s *MySQLTaskStore) Get(ctx context.Context, userID int64) (*model.TaskRecord, error) {
	row := s.database.QueryRow(ctx,
		"SELECT "+taskColumns+" FROM ondemand_tasks WHERE user_id = ?", userID)
	task, err := scanTask(row)
	if db.IsNoRows(err) {
		return nil, appErr.New(appErr.TaskNotFound)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "read task failed")
	}
	return task, nil
}

func (s *MySQLTaskStore) NextStaleRunning(ctx context.Context, olderThan time.Time, order ClaimOrder) (*model.TaskRecord, error) {
	row := s.database.QueryRow(ctx,
		"SELECT "+taskColumns+" FROM ondemand_tasks WHERE status = ? AND last_updated < ? ORDER BY last_updated "+order.sqlDirection()+" LIMIT 1",
		string(model.StatusRunning), olderThan.UTC())
	task, err := scanTask(row)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query stale tasks failed")
	}
	return task, nil
}

func (s *MySQLTaskStore) NextPending(ctx context.Context, order ClaimOrder) (*model.TaskRecord, error) {
	row := s.database.QueryRow(ctx,
		"SELECT "+taskColumns+" FROM ondemand_tasks WHERE status = ? ORDER BY last_updated "+order.sqlDirection()+" LIMIT 1",
		string(model.StatusPending))
	task, err := scanTask(row)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query pending tasks failed")
	}
	return task, nil
}

func (s *MySQLTaskStore) TryClaim(ctx context.Context, userID int64, olderThan time.Time, maxRetries int) (ClaimOutcome, *model.TaskRecord, error) {
	outcome := ClaimLost
	var claimed *model.TaskRecord

	err := s.database.Transaction(ctx, func(tx db.Transaction) error {
		row := tx.QueryRow(ctx,
			"SELECT "+taskColumns+" FROM ondemand_tasks WHERE user_id = ? FOR UPDATE", userID)
		task, err := scanTask(row)
		if db.IsNoRows(err) {
			return nil
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "re-read task failed")
		}

		stale := task.Status == model.StatusRunning && task.LastUpdated.Before(olderThan)

		if task.Retries > maxRetries && stale {
			_, err := tx.Exec(ctx,
				"UPDATE ondemand_tasks SET status = ?, last_updated = ? WHERE user_id = ?",
				string(model.StatusFailed), s.now().UTC(), userID)
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "abandon task failed")
			}
			outcome = ClaimAbandoned
			return nil
		}

		if task.Status != model.StatusPending && !stale {
			return nil
		}

		now := s.now().UTC()
		_, err = tx.Exec(ctx,
			"UPDATE ondemand_tasks SET status = ?, retries = retries + 1, last_updated = ? WHERE user_id = ?",
			string(model.StatusRunning), now, userID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "claim update failed")
		}
		task.Status = model.StatusRunning
		task.Retries++
		task.LastUpdated = now
		outcome = ClaimGranted
		claimed = task
		return nil
	})
	if err != nil {
		return ClaimLost, nil, err
	}
	return outcome, claimed, nil
}

func (s *MySQLTaskStore) Complete(ctx context.Context, userID int64, output *model.GameOutput, snapshot json.RawMessage, objective *model.Objective) error {
	return s.database.Transaction(ctx, func(tx db.Transaction) error {
		row := tx.QueryRow(ctx,
			"SELECT "+taskColumns+" FROM ondemand_tasks WHERE user_id = ? FOR UPDATE", userID)
		task, err := scanTask(row)
		if db.IsNoRows(err) {
			return appErr.New(appErr.TaskNotFound)
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "read task failed")
		}

		if len(snapshot) > 0 {
			task.Snapshots = append(task.Snapshots, snapshot)
		}
		snapshots, err := json.Marshal(task.Snapshots)
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidFormat, "encode snapshots failed")
		}
		outputJSON, err := marshalNullable(output)
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidFormat, "encode game output failed")
		}
		objectiveJSON, err := marshalNullable(objective)
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidFormat, "encode objective failed")
		}

		_, err = tx.Exec(ctx,
			"UPDATE ondemand_tasks SET status = ?, game_output = ?, snapshots = ?, objective = ?, last_updated = ? WHERE user_id = ?",
			string(model.StatusCompleted), outputJSON, snapshots, objectiveJSON, s.now().UTC(), userID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "complete task failed")
		}
		return nil
	})
}

func (s *MySQLTaskStore) FailCompile(ctx context.Context, userID int64, compileError string) error {
	result, err := s.database.Exec(ctx,
		"UPDATE ondemand_tasks SET status = ?, compile_error = ?, last_updated = ? WHERE user_id = ?",
		string(model.StatusFailed), compileError, s.now().UTC(), userID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "record compile failure failed")
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return appErr.New(appErr.TaskNotFound)
	}
	return nil
}

func (s *MySQLTaskStore) Requeue(ctx context.Context, userID int64, params map[string]interface{}) error {
	return s.database.Transaction(ctx, func(tx db.Transaction) error {
		var status string
		err := tx.QueryRow(ctx,
			"SELECT status FROM ondemand_tasks WHERE user_id = ? FOR UPDATE", userID,
		).Scan(&status)
		if db.IsNoRows(err) {
			return appErr.New(appErr.TaskNotFound)
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "read task failed")
		}
		if model.TaskStatus(status) != model.StatusCompleted {
			return appErr.New(appErr.TaskNotContinuable)
		}

		if params != nil {
			encoded, err := json.Marshal(params)
			if err != nil {
				return appErr.Wrapf(err, appErr.InvalidFormat, "encode environment parameters failed")
			}
			_, err = tx.Exec(ctx,
				"UPDATE ondemand_tasks SET status = ?, environment_parameters = ?, retries = 0, game_output = NULL, last_updated = ? WHERE user_id = ?",
				string(model.StatusPending), encoded, s.now().UTC(), userID)
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "requeue task failed")
			}
			return nil
		}

		_, err = tx.Exec(ctx,
			"UPDATE ondemand_tasks SET status = ?, retries = 0, game_output = NULL, last_updated = ? WHERE user_id = ?",
			string(model.StatusPending), s.now().UTC(), userID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "requeue task failed")
		}
		return nil
	})
}

func marshalNullable(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case *model.GameOutput:
		if value == nil {
			return nil, nil
		}
	case *model.Objective:
		if value == nil {
			return nil, nil
		}
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

func scanTask(row db.Row) (*model.TaskRecord, error) {
	var (
		task         model.TaskRecord
		status       string
		opponents    []byte
		params       []byte
		gameOutput   sql.NullString
		snapshots    sql.NullString
		objective    sql.NullString
		metadata     sql.NullString
		compileError sql.NullString
	)
	err := row.Scan(&task.UserID, &status, &opponents, &params, &task.Retries,
		&task.LastUpdated, &gameOutput, &snapshots, &objective, &metadata, &compileError)
	if err != nil {
		return nil, err
	}

	task.Status = model.TaskStatus(status)
	if len(opponents) > 0 {
		if err := json.Unmarshal(opponents, &task.Opponents); err != nil {
			return nil, err
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &task.EnvironmentParameters); err != nil {
			return nil, err
		}
	}
	if gameOutput.Valid && gameOutput.String != "" && gameOutput.String != "null" {
		task.GameOutput = &model.GameOutput{}
		if err := json.Unmarshal([]byte(gameOutput.String), task.GameOutput); err != nil {
			return nil, err
		}
	}
	if snapshots.Valid && snapshots.String != "" && snapshots.String != "null" {
		if err := json.Unmarshal([]byte(snapshots.String), &task.Snapshots); err != nil {
			return nil, err
		}
	}
	if objective.Valid && objective.String != "" && objective.String != "null" {
		task.Objective = &model.Objective{}
		if err := json.Unmarshal([]byte(objective.String), task.Objective); err != nil {
			return nil, err
		}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		task.Metadata = json.RawMessage(metadata.String)
	}
	if compileError.Valid {
		task.CompileError = compileError.String
	}
	return &task, nil
}
