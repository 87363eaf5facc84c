package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"botarena/internal/common/db"
	"botarena/internal/coordinator/model"
	appErr "botarena/pkg/errors"
)

// MatchQueue serves ranked compile and game jobs to workers. Compile jobs
// are created when a user uploads a new bot; game jobs come from the
// matchmaker. Unlike on-demand tasks these are served oldest-first.
type MatchQueue interface {
	EnqueueCompile(ctx context.Context, userID, botID int64) error
	EnqueueGame(ctx context.Context, participants []model.Opponent, params map[string]interface{}) error

	// ClaimNext atomically hands out the oldest pending task of one of the
	// requested kinds, resetting stale running tasks to pending first.
	// Returns nil when nothing is claimable.
	ClaimNext(ctx context.Context, kinds []model.MatchTaskKind, olderThan time.Time, maxRetries int) (*model.MatchTask, error)

	// CompleteFor removes the running task identified by kind and
	// participant. Result posts identify their task this way rather than
	// by queue id.
	CompleteFor(ctx context.Context, kind model.MatchTaskKind, userID, botID int64) error
}

// MySQLMatchQueue implements MatchQueue on the match_tasks table.
//
// Schema:
//
//	CREATE TABLE match_tasks (
//	    id                     BIGINT AUTO_INCREMENT PRIMARY KEY,
//	    kind                   VARCHAR(8) NOT NULL,
//	    user_id                BIGINT NOT NULL,
//	    bot_id                 BIGINT NOT NULL,
//	    participants           JSON NULL,
//	    environment_parameters JSON NULL,
//	    status                 VARCHAR(16) NOT NULL,
//	    retries                INT NOT NULL DEFAULT 0,
//	    last_updated           DATETIME(6) NOT NULL,
//	    KEY idx_kind_status (kind, status, id)
//	);
type MySQLMatchQueue struct {
	database db.Database
	now      func() time.Time
}

// NewMySQLMatchQueue creates a match queue over the given database.
func NewMySQLMatchQueue(database db.Database) *MySQLMatchQueue {
	return &MySQLMatchQueue{database: database, now: time.Now}
}

func (q *MySQLMatchQueue) EnqueueCompile(ctx context.Context, userID, botID int64) error {
	_, err := q.database.Exec(ctx,
		"INSERT INTO match_tasks (kind, user_id, bot_id, status, last_updated) VALUES (?, ?, ?, ?, ?)",
		string(model.MatchTaskCompile), userID, botID, string(model.StatusPending), q.now().UTC())
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "enqueue compile task failed")
	}
	return nil
}

func (q *MySQLMatchQueue) EnqueueGame(ctx context.Context, participants []model.Opponent, params map[string]interface{}) error {
	if len(participants) == 0 {
		return appErr.ValidationError("participants", "required")
	}
	encoded, err := json.Marshal(participants)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "encode participants failed")
	}
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "encode environment parameters failed")
	}
	_, err = q.database.Exec(ctx,
		"INSERT INTO match_tasks (kind, user_id, bot_id, participants, environment_parameters, status, last_updated) VALUES (?, ?, ?, ?, ?, ?, ?)",
		string(model.MatchTaskGame), participants[0].UserID, participants[0].BotID,
		encoded, encodedParams, string(model.StatusPending), q.now().UTC())
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "enqueue game task failed")
	}
	return nil
}

func (q *MySQLMatchQueue) ClaimNext(ctx context.Context, kinds []model.MatchTaskKind, olderThan time.Time, maxRetries int) (*model.MatchTask, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	kindArgs := make([]interface{}, 0, len(kinds))
	placeholders := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		kindArgs = append(kindArgs, string(kind))
		placeholders = append(placeholders, "?")
	}
	kindList := strings.Join(placeholders, ", ")

	var claimed *model.MatchTask
	err := q.database.Transaction(ctx, func(tx db.Transaction) error {
		// Workers that died mid-task leave running rows behind; recycle
		// them before serving, dropping any that exhausted their retries.
		resetArgs := append([]interface{}{string(model.StatusFailed), q.now().UTC(),
			string(model.StatusRunning)}, kindArgs...)
		resetArgs = append(resetArgs, olderThan.UTC(), maxRetries)
		_, err := tx.Exec(ctx,
			"UPDATE match_tasks SET status = ?, last_updated = ? WHERE status = ? AND kind IN ("+kindList+") AND last_updated < ? AND retries > ?",
			resetArgs...)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "abandon stale match tasks failed")
		}

		requeueArgs := append([]interface{}{string(model.StatusPending), q.now().UTC(),
			string(model.StatusRunning)}, kindArgs...)
		requeueArgs = append(requeueArgs, olderThan.UTC())
		_, err = tx.Exec(ctx,
			"UPDATE match_tasks SET status = ?, last_updated = ? WHERE status = ? AND kind IN ("+kindList+") AND last_updated < ?",
			requeueArgs...)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "reset stale match tasks failed")
		}

		selectArgs := append([]interface{}{string(model.StatusPending)}, kindArgs...)
		row := tx.QueryRow(ctx,
			"SELECT id, kind, user_id, bot_id, participants, environment_parameters, retries, last_updated FROM match_tasks WHERE status = ? AND kind IN ("+kindList+") ORDER BY FIELD(kind, 'compile', 'game'), id ASC LIMIT 1 FOR UPDATE",
			selectArgs...)
		task, err := scanMatchTask(row)
		if db.IsNoRows(err) {
			return nil
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "query match tasks failed")
		}

		now := q.now().UTC()
		_, err = tx.Exec(ctx,
			"UPDATE match_tasks SET status = ?, retries = retries + 1, last_updated = ? WHERE id = ?",
			string(model.StatusRunning), now, task.ID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "claim match task failed")
		}
		task.Status = model.StatusRunning
		task.Retries++
		task.LastUpdated = now
		claimed = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q *MySQLMatchQueue) CompleteFor(ctx context.Context, kind model.MatchTaskKind, userID, botID int64) error {
	result, err := q.database.Exec(ctx,
		"DELETE FROM match_tasks WHERE kind = ? AND user_id = ? AND bot_id = ? AND status = ? ORDER BY id ASC LIMIT 1",
		string(kind), userID, botID, string(model.StatusRunning))
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "complete match task failed")
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return appErr.New(appErr.TaskNotFound)
	}
	return nil
}

func scanMatchTask(row db.Row) (*model.MatchTask, error) {
	var (
		task         model.MatchTask
		kind         string
		participants []byte
		params       []byte
	)
	err := row.Scan(&task.ID, &kind, &task.UserID, &task.BotID, &participants, &params,
		&task.Retries, &task.LastUpdated)
	if err != nil {
		return nil, err
	}
	task.Kind = model.MatchTaskKind(kind)
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &task.Participants); err != nil {
			return nil, err
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &task.EnvironmentParameters); err != nil {
			return nil, err
		}
	}
	return &task, nil
}
