package controller

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	"botarena/internal/coordinator/model"
	"botarena/internal/coordinator/service"
	"botarena/pkg/utils/response"
)

// OndemandController is the session surface used by the web editor.
type OndemandController struct {
	sessions *service.OndemandService
}

// NewOndemandController creates a new controller.
func NewOndemandController(sessions *service.OndemandService) *OndemandController {
	return &OndemandController{sessions: sessions}
}

type launchRequest struct {
	UserID                int64                  `json:"user_id" binding:"required"`
	Opponents             []model.Opponent       `json:"opponents" binding:"required"`
	EnvironmentParameters map[string]interface{} `json:"environment_parameters"`
	Metadata              json.RawMessage        `json:"metadata"`
}

// Launch queues a new session task for the user.
func (h *OndemandController) Launch(c *gin.Context) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid launch request")
		return
	}
	err := h.sessions.Launch(c.Request.Context(), req.UserID, req.Opponents, req.EnvironmentParameters, req.Metadata)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Status returns the user's task record for session polling.
func (h *OndemandController) Status(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid user_id")
		return
	}
	task, err := h.sessions.Status(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

type continueRequest struct {
	UserID                int64                  `json:"user_id" binding:"required"`
	EnvironmentParameters map[string]interface{} `json:"environment_parameters"`
}

// Continue recycles a completed session back into the queue, resuming from
// its latest snapshot.
func (h *OndemandController) Continue(c *gin.Context) {
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid continue request")
		return
	}
	if err := h.sessions.Continue(c.Request.Context(), req.UserID, req.EnvironmentParameters); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
