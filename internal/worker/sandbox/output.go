package sandbox

import (
	"encoding/json"

	appErr "botarena/pkg/errors"
)

// PlayerStats is one participant's entry in the engine's stats map, keyed
// by the participant's index within the match.
type PlayerStats struct {
	Rank int `json:"rank"`
}

// EngineOutput is the JSON result the match engine writes to stdout. A
// participant crashing mid-game still yields a valid output; its rank and
// terminated flag encode the elimination.
type EngineOutput struct {
	Replay       string                 `json:"replay"`
	Stats        map[string]PlayerStats `json:"stats"`
	Terminated   map[string]bool        `json:"terminated"`
	ErrorLogs    map[string]string      `json:"error_logs"`
	MapWidth     int                    `json:"map_width"`
	MapHeight    int                    `json:"map_height"`
	MapSeed      int64                  `json:"map_seed"`
	MapGenerator string                 `json:"map_generator"`

	// FinalSnapshot and Objective are only emitted by session-capable
	// engines; they feed match continuation and goal tracking.
	FinalSnapshot json.RawMessage `json:"final_snapshot,omitempty"`
	Objective     json.RawMessage `json:"objective,omitempty"`
}

// ParseEngineOutput decodes the engine's stdout. Malformed JSON or a
// missing stats map is an execution failure, never a match result.
func ParseEngineOutput(raw []byte) (*EngineOutput, error) {
	var output EngineOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		return nil, appErr.Wrapf(err, appErr.EngineOutputInvalid, "decode engine output failed")
	}
	if output.Stats == nil {
		return nil, appErr.New(appErr.EngineOutputInvalid).WithMessage("engine output missing stats")
	}
	return &output, nil
}
