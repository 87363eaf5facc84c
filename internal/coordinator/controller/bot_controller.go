package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"botarena/internal/coordinator/repository"
	"botarena/pkg/utils/response"
)

// BotController serves bot archive transfer and integrity queries for the
// worker fleet.
type BotController struct {
	blobs *repository.BlobRepository
}

// NewBotController creates a new controller.
func NewBotController(blobs *repository.BlobRepository) *BotController {
	return &BotController{blobs: blobs}
}

// GetBotFile streams the archive with its MD5 in the X-Hash header.
func (h *BotController) GetBotFile(c *gin.Context) {
	userID, botID, ok := botQuery(c)
	if !ok {
		return
	}
	reader, hash, size, err := h.blobs.GetBot(c.Request.Context(), userID, botID, !wantsSource(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer func() { _ = reader.Close() }()

	c.Header("X-Hash", hash)
	c.DataFromReader(http.StatusOK, size, "application/zip", reader, nil)
}

// PostBotFile stores a compiled archive uploaded by a worker.
func (h *BotController) PostBotFile(c *gin.Context) {
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

	if err := h.blobs.PutBot(c.Request.Context(), userID, botID, true, file, header.Size); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetBotHash returns the stored archive's hex MD5.
func (h *BotController) GetBotHash(c *gin.Context) {
	userID, botID, ok := botQuery(c)
	if !ok {
		return
	}
	hash, err := h.blobs.BotHash(c.Request.Context(), userID, botID, !wantsSource(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": hash})
}

// wantsSource reads the compile flag: compile=1 selects the uploaded
// source awaiting compilation, absent or 0 selects the compiled bot.
func wantsSource(c *gin.Context) bool {
	flag := c.Query("compile")
	return flag == "1" || flag == "true"
}

func botQuery(c *gin.Context) (int64, int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid user_id")
		return 0, 0, false
	}
	botID, err := strconv.ParseInt(c.Query("bot_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid bot_id")
		return 0, 0, false
	}
	return userID, botID, true
}
