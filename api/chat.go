package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/my-chat-db/chat"
	"github.com/xiaoyuanzhu-com/my-chat-db/history"
	"github.com/xiaoyuanzhu-com/my-chat-db/log"
)

var chatLogger = log.GetLogger("ApiChat")

// respondChatError maps controller errors onto HTTP responses
func respondChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrChatDisabled):
		RespondServiceUnavailable(c, "Chat is disabled, no API key configured")
	case errors.Is(err, chat.ErrMessageNotFound):
		RespondNotFound(c, "Message not found")
	case errors.Is(err, history.ErrIndexOutOfRange):
		RespondUnprocessable(c, "Version index out of range")
	default:
		respondStoreError(c, err)
	}
}

type sendRequest struct {
	Message string           `json:"message" binding:"required"`
	Options chat.SendOptions `json:"options"`
}

// SendMessage handles POST /api/chat
func (h *Handlers) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body")
		return
	}

	result, err := h.controller.Send(c.Request.Context(), req.Message, req.Options)
	if err != nil {
		chatLogger.Error().Err(err).Msg("send failed")
		respondChatError(c, err)
		return
	}

	RespondData(c, result)
}

type editRequest struct {
	Message string           `json:"message" binding:"required"`
	Options chat.SendOptions `json:"options"`
}

// EditMessage handles POST /api/chat/:messageId/edit
func (h *Handlers) EditMessage(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body")
		return
	}

	result, err := h.controller.Edit(c.Request.Context(), c.Param("messageId"), req.Message, req.Options)
	if err != nil {
		chatLogger.Error().Err(err).Str("messageId", c.Param("messageId")).Msg("edit failed")
		respondChatError(c, err)
		return
	}

	RespondData(c, result)
}

type regenerateRequest struct {
	Options chat.SendOptions `json:"options"`
}

// RegenerateMessage handles POST /api/chat/:messageId/regenerate
func (h *Handlers) RegenerateMessage(c *gin.Context) {
	var req regenerateRequest
	// Body is optional for regenerate
	_ = c.ShouldBindJSON(&req)

	result, err := h.controller.Regenerate(c.Request.Context(), c.Param("messageId"), req.Options)
	if err != nil {
		chatLogger.Error().Err(err).Str("messageId", c.Param("messageId")).Msg("regenerate failed")
		respondChatError(c, err)
		return
	}

	RespondData(c, result)
}

// StopGeneration handles POST /api/chat/stop
func (h *Handlers) StopGeneration(c *gin.Context) {
	h.controller.Stop()
	RespondNoContent(c)
}

// GetVersions handles GET /api/chat/:messageId/versions
func (h *Handlers) GetVersions(c *gin.Context) {
	RespondList(c, h.controller.History(c.Param("messageId")))
}

type navigateRequest struct {
	Index *int `json:"index" binding:"required"`
}

// NavigateVersion handles POST /api/chat/:messageId/versions/navigate
func (h *Handlers) NavigateVersion(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Index == nil {
		RespondBadRequest(c, "Invalid request body, index is required")
		return
	}

	version, err := h.controller.Navigate(c.Param("messageId"), *req.Index)
	if err != nil {
		respondChatError(c, err)
		return
	}

	RespondData(c, version)
}

// ClearVersions handles DELETE /api/chat/:messageId/versions
func (h *Handlers) ClearVersions(c *gin.Context) {
	if err := h.controller.ClearHistory(c.Param("messageId")); err != nil {
		respondChatError(c, err)
		return
	}
	RespondNoContent(c)
}
