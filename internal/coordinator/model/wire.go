package model

import "encoding/json"

// Task envelope types served to workers from the task endpoint.
const (
	TaskTypeNone     = "notask"
	TaskTypeCompile  = "compile"
	TaskTypeGame     = "game"
	TaskTypeOndemand = "ondemand"
)

// TaskEnvelope is the JSON body handed to a polling worker. Field names are
// shared with the worker fleet and must stay stable.
type TaskEnvelope struct {
	Type                  string                 `json:"type"`
	TaskID                int64                  `json:"task_id,omitempty"`
	User                  int64                  `json:"user,omitempty"`
	Bot                   int64                  `json:"bot,omitempty"`
	Users                 []Opponent             `json:"users,omitempty"`
	EnvironmentParameters map[string]interface{} `json:"environment_parameters,omitempty"`
	Snapshot              json.RawMessage        `json:"snapshot,omitempty"`
	Metadata              json.RawMessage        `json:"metadata,omitempty"`
}

// NoTask is the envelope returned when nothing is claimable.
func NoTask() *TaskEnvelope {
	return &TaskEnvelope{Type: TaskTypeNone}
}
