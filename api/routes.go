package api

import (
	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/my-chat-db/chat"
	"github.com/xiaoyuanzhu-com/my-chat-db/db"
	"github.com/xiaoyuanzhu-com/my-chat-db/notifications"
	"github.com/xiaoyuanzhu-com/my-chat-db/store"
)

// Handlers bundles the services the API routes operate on
type Handlers struct {
	store      *store.Store
	controller *chat.Controller
	notif      *notifications.Service
	db         *db.DB
}

// NewHandlers wires the API layer over its services
func NewHandlers(st *store.Store, controller *chat.Controller, notif *notifications.Service, database *db.DB) *Handlers {
	return &Handlers{
		store:      st,
		controller: controller,
		notif:      notif,
		db:         database,
	}
}

// SetupRoutes configures all API routes
func (h *Handlers) SetupRoutes(r *gin.Engine) {
	// API group
	api := r.Group("/api")

	// Session routes
	api.GET("/sessions", h.ListSessions)
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/current", h.GetCurrentSession)
	api.POST("/sessions/current/clear", h.ClearCurrentSession)
	api.POST("/sessions/prune", h.PruneSessions)
	api.GET("/sessions/:id", h.GetSession)
	api.PUT("/sessions/:id", h.RenameSession)
	api.DELETE("/sessions/:id", h.DeleteSession)
	api.POST("/sessions/:id/switch", h.SwitchSession)

	// Chat routes
	api.POST("/chat", h.SendMessage)
	api.POST("/chat/stop", h.StopGeneration)
	api.POST("/chat/:messageId/edit", h.EditMessage)
	api.POST("/chat/:messageId/regenerate", h.RegenerateMessage)
	api.GET("/chat/:messageId/versions", h.GetVersions)
	api.POST("/chat/:messageId/versions/navigate", h.NavigateVersion)
	api.DELETE("/chat/:messageId/versions", h.ClearVersions)

	// Quota and persistence status
	api.GET("/quota", h.GetQuota)
	api.POST("/persist", h.TriggerPersist)

	// Settings
	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.UpdateSettings)

	// Notifications (SSE + WebSocket)
	api.GET("/notifications/stream", h.NotificationStream)
	api.GET("/notifications/ws", h.NotificationSocket)
}
