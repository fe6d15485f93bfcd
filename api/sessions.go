package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/my-chat-db/log"
	"github.com/xiaoyuanzhu-com/my-chat-db/store"
)

var sessionsLogger = log.GetLogger("ApiSessions")

// respondStoreError maps store errors onto HTTP responses
func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		RespondNotFound(c, "Session not found")
	case errors.Is(err, store.ErrLastSession):
		RespondConflict(c, "Cannot delete the last session")
	case errors.Is(err, store.ErrEvictionExhausted):
		RespondInsufficientStorage(c, "Storage full even after eviction")
	default:
		RespondInternalError(c, err.Error())
	}
}

// ListSessions handles GET /api/sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	RespondList(c, h.store.List())
}

// GetCurrentSession handles GET /api/sessions/current
func (h *Handlers) GetCurrentSession(c *gin.Context) {
	RespondData(c, h.store.Current())
}

// GetSession handles GET /api/sessions/:id
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.store.Get(c.Param("id"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	RespondData(c, sess)
}

// CreateSession handles POST /api/sessions
func (h *Handlers) CreateSession(c *gin.Context) {
	sess, err := h.store.CreateSession()
	if err != nil {
		sessionsLogger.Error().Err(err).Msg("failed to persist created session")
		respondStoreError(c, err)
		return
	}

	h.notif.NotifySessionChanged(sess.ID, "create")
	RespondCreated(c, sess, "/api/sessions/"+sess.ID)
}

// SwitchSession handles POST /api/sessions/:id/switch
func (h *Handlers) SwitchSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.SwitchSession(id); err != nil {
		respondStoreError(c, err)
		return
	}

	h.notif.NotifySessionChanged(id, "switch")
	RespondData(c, h.store.Current())
}

// DeleteSession handles DELETE /api/sessions/:id
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteSession(id); err != nil {
		respondStoreError(c, err)
		return
	}

	h.notif.NotifySessionChanged(id, "delete")
	RespondNoContent(c)
}

type renameRequest struct {
	Title string `json:"title" binding:"required"`
}

// RenameSession handles PUT /api/sessions/:id
func (h *Handlers) RenameSession(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body")
		return
	}

	id := c.Param("id")
	if err := h.store.RenameSession(id, req.Title); err != nil {
		respondStoreError(c, err)
		return
	}
	if err := h.store.Persist(); err != nil {
		respondStoreError(c, err)
		return
	}

	h.notif.NotifySessionChanged(id, "rename")
	RespondNoContent(c)
}

// ClearCurrentSession handles POST /api/sessions/current/clear
func (h *Handlers) ClearCurrentSession(c *gin.Context) {
	if err := h.store.ClearCurrentMessages(); err != nil {
		respondStoreError(c, err)
		return
	}

	sess := h.store.Current()
	h.notif.NotifySessionChanged(sess.ID, "clear")
	RespondData(c, sess)
}

type pruneRequest struct {
	Keep int `json:"keep"`
}

// PruneSessions handles POST /api/sessions/prune.
// Keeps only the newest N sessions; with keep above the current count the
// whole collection is wiped and restarted with a fresh session.
func (h *Handlers) PruneSessions(c *gin.Context) {
	var req pruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body")
		return
	}
	if req.Keep < 0 {
		RespondBadRequest(c, "keep must not be negative")
		return
	}

	if err := h.store.PruneSessions(req.Keep); err != nil {
		respondStoreError(c, err)
		return
	}

	h.notif.NotifySessionChanged(h.store.Current().ID, "prune")
	h.notif.NotifyQuotaChanged(h.store.Measure())
	RespondList(c, h.store.List())
}
