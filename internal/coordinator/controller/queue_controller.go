package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"botarena/internal/coordinator/model"
	"botarena/internal/coordinator/service"
	"botarena/pkg/utils/response"
)

// QueueController is the intake surface for the web side: source bot
// uploads and matchmaker submissions.
type QueueController struct {
	intake *service.IntakeService
}

// NewQueueController creates a new controller.
func NewQueueController(intake *service.IntakeService) *QueueController {
	return &QueueController{intake: intake}
}

// PostBot accepts a source archive upload and queues its compile task.
func (h *QueueController) PostBot(c *gin.Context) {
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

	header, err := c.FormFile("bot.zip")
	if err != nil {
		response.BadRequest(c, "Missing bot.zip upload")
		return
	}
	file, err := header.Open()
	if err != nil {
		response.BadRequest(c, "Unreadable bot.zip upload")
		return
	}
	defer func() { _ = file.Close() }()

	if err := h.intake.SubmitBot(c.Request.Context(), userID, botID, file, header.Size); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

type matchRequest struct {
	Users                 []model.Opponent       `json:"users" binding:"required"`
	EnvironmentParameters map[string]interface{} `json:"environment_parameters"`
}

// PostMatch queues a ranked game between the given participants.
func (h *QueueController) PostMatch(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid match request")
		return
	}
	if err := h.intake.SubmitMatch(c.Request.Context(), req.Users, req.EnvironmentParameters); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
