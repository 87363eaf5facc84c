package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"botarena/internal/coordinator/service"
	"botarena/pkg/utils/response"
)

// TaskController serves the worker task poll. The body is the raw task
// envelope, not the web response wrapper, because the worker fleet parses
// it directly.
type TaskController struct {
	dispatch *service.DispatchService
}

// NewTaskController creates a new controller.
func NewTaskController(dispatch *service.DispatchService) *TaskController {
	return &TaskController{dispatch: dispatch}
}

// GetTask hands out at most one task per call.
func (h *TaskController) GetTask(c *gin.Context) {
	capabilities := c.QueryArray("capability")
	envelope, err := h.dispatch.NextTask(c.Request.Context(), capabilities)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope)
}
