package controller

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"botarena/internal/coordinator/model"
	"botarena/internal/coordinator/service"
	"botarena/pkg/utils/response"
)

// ResultController ingests multipart result posts from workers.
type ResultController struct {
	results *service.ResultService
}

// NewResultController creates a new controller.
func NewResultController(results *service.ResultService) *ResultController {
	return &ResultController{results: results}
}

// PostCompile records the outcome of a ranked compile task.
func (h *ResultController) PostCompile(c *gin.Context) {
	userID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid user_id")
		return
	}
	botID, err := strconv.ParseInt(c.PostForm("bot_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid bot_id")
		return
	}
	didCompile := c.PostForm("did_compile") == "1"
	language := c.PostForm("language")
	diagnostics := c.PostForm("errors")

	if err := h.results.RecordCompileResult(c.Request.Context(), userID, botID, didCompile, language, diagnostics); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// PostGame ingests a ranked match result with its replay and log uploads.
func (h *ResultController) PostGame(c *gin.Context) {
	var users []model.ParticipantResult
	if err := json.Unmarshal([]byte(c.PostForm("users")), &users); err != nil {
		response.BadRequest(c, "Invalid users payload")
		return
	}
	var output model.GameOutput
	if err := json.Unmarshal([]byte(c.PostForm("game_output")), &output); err != nil {
		response.BadRequest(c, "Invalid game_output payload")
		return
	}

	replay, logs, err := collectUploads(c, output.Replay)
	if err != nil {
		response.BadRequest(c, "Unreadable uploaded file")
		return
	}

	if err := h.results.RecordGameResult(c.Request.Context(), users, &output, replay, logs); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// PostOndemandResult finalizes an on-demand session's match.
func (h *ResultController) PostOndemandResult(c *gin.Context) {
	userID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid user_id")
		return
	}
	var output model.GameOutput
	if err := json.Unmarshal([]byte(c.PostForm("game_output")), &output); err != nil {
		response.BadRequest(c, "Invalid game_output payload")
		return
	}

	var snapshot json.RawMessage
	if raw := c.PostForm("snapshot"); raw != "" {
		snapshot = json.RawMessage(raw)
	}
	var objective *model.Objective
	if raw := c.PostForm("objective"); raw != "" {
		objective = &model.Objective{}
		if err := json.Unmarshal([]byte(raw), objective); err != nil {
			response.BadRequest(c, "Invalid objective payload")
			return
		}
	}

	replay, logs, err := collectUploads(c, output.Replay)
	if err != nil {
		response.BadRequest(c, "Unreadable uploaded file")
		return
	}

	if err := h.results.RecordOndemandResult(c.Request.Context(), userID, &output, replay, logs, snapshot, objective); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// PostOndemandCompile records a pre-match compile failure for a session.
// This path is distinct from a game result so the editor can show compile
// diagnostics instead of a broken match.
func (h *ResultController) PostOndemandCompile(c *gin.Context) {
	userID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid user_id")
		return
	}
	diagnostics := c.PostForm("errors")

	if err := h.results.RecordOndemandCompileError(c.Request.Context(), userID, diagnostics); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// collectUploads reads every multipart file, splitting the replay (matched
// by name) from per-participant logs.
func collectUploads(c *gin.Context, replayName string) ([]byte, map[string][]byte, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, err
	}
	var replay []byte
	logs := make(map[string][]byte)
	for name, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		file, err := headers[0].Open()
		if err != nil {
			return nil, nil, err
		}
		content, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return nil, nil, err
		}
		if name == replayName {
			replay = content
		} else {
			logs[name] = content
		}
	}
	return replay, logs, nil
}
