package model

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a task record.
type TaskStatus string

const (
	StatusCreated   TaskStatus = "created"
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Valid reports whether s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further worker dispatch.
// Completed tasks may still be recycled to pending by a continuation.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Opponent describes one participant in a match. Field names are part of
// the wire contract shared with the web API layer.
type Opponent struct {
	UserID              int64  `json:"user_id"`
	BotID               int64  `json:"bot_id"`
	Username            string `json:"username"`
	VersionNumber       int    `json:"version_number"`
	RequiresCompilation bool   `json:"requires_compilation,omitempty"`
}

// ParticipantResult carries per-participant outcome fields reported by the
// worker alongside the engine output.
type ParticipantResult struct {
	Opponent
	Rank     int    `json:"rank"`
	TimedOut bool   `json:"timed_out"`
	LogName  string `json:"log_name,omitempty"`
}

// ParticipantStats is one entry of the engine's stats map, keyed by the
// participant's index within the match.
type ParticipantStats struct {
	Rank int `json:"rank"`
}

// GameOutput is the structured engine result stored on a completed task.
type GameOutput struct {
	Replay       string                      `json:"replay"`
	ErrorLogs    map[string]string           `json:"error_logs,omitempty"`
	MapWidth     int                         `json:"map_width,omitempty"`
	MapHeight    int                         `json:"map_height,omitempty"`
	MapSeed      int64                       `json:"map_seed,omitempty"`
	MapGenerator string                      `json:"map_generator,omitempty"`
	Stats        map[string]ParticipantStats `json:"stats"`
	Terminated   map[string]bool             `json:"terminated,omitempty"`
}

// Objective records whether a scenario-specific goal was met.
type Objective struct {
	Completed bool            `json:"completed"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// TaskRecord is the persisted unit of work for an on-demand session. Each
// user holds at most one record; continuations recycle it back to pending.
type TaskRecord struct {
	UserID                int64                  `json:"user_id"`
	Status                TaskStatus             `json:"status"`
	Opponents             []Opponent             `json:"opponents"`
	EnvironmentParameters map[string]interface{} `json:"environment_parameters"`
	Retries               int                    `json:"retries"`
	LastUpdated           time.Time              `json:"last_updated"`
	GameOutput            *GameOutput            `json:"game_output,omitempty"`
	Snapshots             []json.RawMessage      `json:"snapshots,omitempty"`
	Objective             *Objective             `json:"objective,omitempty"`
	Metadata              json.RawMessage        `json:"metadata,omitempty"`
	CompileError          string                 `json:"compile_error,omitempty"`
}

// LatestSnapshot returns the most recent snapshot, or nil when none exist.
func (t *TaskRecord) LatestSnapshot() json.RawMessage {
	if len(t.Snapshots) == 0 {
		return nil
	}
	return t.Snapshots[len(t.Snapshots)-1]
}

// MatchTaskKind distinguishes queued ranked work.
type MatchTaskKind string

const (
	MatchTaskCompile MatchTaskKind = "compile"
	MatchTaskGame    MatchTaskKind = "game"
)

// MatchTask is one queued compile or ranked-game job served to workers
// through the task endpoint.
type MatchTask struct {
	ID                    int64                  `json:"id"`
	Kind                  MatchTaskKind          `json:"kind"`
	UserID                int64                  `json:"user_id"`
	BotID                 int64                  `json:"bot_id"`
	Participants          []Opponent             `json:"participants,omitempty"`
	EnvironmentParameters map[string]interface{} `json:"environment_parameters,omitempty"`
	Status                TaskStatus             `json:"status"`
	Retries               int                    `json:"retries"`
	LastUpdated           time.Time              `json:"last_updated"`
}
