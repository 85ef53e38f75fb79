package video

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/internal/middleware"
	"secureconnect-sync/internal/service/video"
	"secureconnect-sync/pkg/response"
)

// Handler handles call signaling HTTP requests
type Handler struct {
	videoService *video.Service
}

// NewHandler creates a new video handler
func NewHandler(videoService *video.Service) *Handler {
	return &Handler{
		videoService: videoService,
	}
}

// SendSignal forwards a call signal to the other participant
// POST /v1/call/signal
func (h *Handler) SendSignal(c *gin.Context) {
	var sig domain.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.videoService.SendSignal(c.Request.Context(), userID, &sig); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"callId": sig.CallID})
}
