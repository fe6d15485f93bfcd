package api

import (
	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/my-chat-db/log"
	"github.com/xiaoyuanzhu-com/my-chat-db/store"
)

var quotaLogger = log.GetLogger("ApiQuota")

// quotaStatus is the GET /api/quota payload: the logical measurement of
// the collection plus the physical state of the backing store.
type quotaStatus struct {
	Usage         store.Usage        `json:"usage"`
	PersistState  store.PersistState `json:"persistState"`
	SessionCount  int                `json:"sessionCount"`
	StoreUsed     int64              `json:"storeUsedBytes"`
	StoreCapacity int64              `json:"storeCapacityBytes"`
}

// GetQuota handles GET /api/quota
func (h *Handlers) GetQuota(c *gin.Context) {
	used, err := h.db.UsedBytes()
	if err != nil {
		quotaLogger.Error().Err(err).Msg("failed to measure store usage")
		RespondInternalError(c, "Failed to measure store usage")
		return
	}

	RespondData(c, quotaStatus{
		Usage:         h.store.Measure(),
		PersistState:  h.store.State(),
		SessionCount:  h.store.SessionCount(),
		StoreUsed:     used,
		StoreCapacity: h.db.CapacityBytes(),
	})
}

// TriggerPersist handles POST /api/persist, forcing a flush of the
// in-memory collection.
func (h *Handlers) TriggerPersist(c *gin.Context) {
	if err := h.store.Persist(); err != nil {
		quotaLogger.Error().Err(err).Msg("manual persist failed")
		respondStoreError(c, err)
		return
	}

	h.notif.NotifyQuotaChanged(h.store.Measure())
	RespondData(c, gin.H{"state": h.store.State()})
}
