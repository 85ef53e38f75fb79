package chat

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/internal/middleware"
	"secureconnect-sync/internal/service/chat"
	"secureconnect-sync/pkg/response"
)

// Handler handles chat HTTP requests
type Handler struct {
	chatService *chat.Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService *chat.Service) *Handler {
	return &Handler{
		chatService: chatService,
	}
}

// SendMessage stores and relays a new message
// POST /v1/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	senderID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), senderID, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// GetMessages returns the conversation with a peer, oldest first
// GET /v1/messages/:peer_id?limit=
func (h *Handler) GetMessages(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.ValidationError(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := h.chatService.GetConversation(c.Request.Context(), userID, c.Param("peer_id"), limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	response.Success(c, http.StatusOK, msgs)
}

// UpdateMessageStatus records a delivery receipt
// POST /v1/messages/:id/status?status=
func (h *Handler) UpdateMessageStatus(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	status := domain.DeliveryStatus(c.Query("status"))
	if status == "" {
		response.ValidationError(c, "status query parameter is required")
		return
	}

	messageID := c.Param("id")
	if err := h.chatService.UpdateStatus(c.Request.Context(), userID, messageID, status); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, domain.StatusUpdate{MessageID: messageID, Status: status})
}
