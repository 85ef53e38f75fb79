package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/internal/middleware"
	"secureconnect-sync/internal/service/presence"
	"secureconnect-sync/pkg/response"
)

// Handler handles presence HTTP requests
type Handler struct {
	presenceService *presence.Service
}

// NewHandler creates a new user handler
func NewHandler(presenceService *presence.Service) *Handler {
	return &Handler{
		presenceService: presenceService,
	}
}

// UpdateStatus advertises the caller's presence
// POST /v1/users/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req domain.UpdatePresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	p, err := h.presenceService.UpdateStatus(c.Request.Context(), userID, req.Status)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, p)
}

// GetStatus returns a user's last advertised presence
// GET /v1/users/:id/status
func (h *Handler) GetStatus(c *gin.Context) {
	p, err := h.presenceService.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, p)
}

// OnlineUsers lists users currently online
// GET /v1/users/online
func (h *Handler) OnlineUsers(c *gin.Context) {
	ids, err := h.presenceService.OnlineUsers(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"users": ids})
}
