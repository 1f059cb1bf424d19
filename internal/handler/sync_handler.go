package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempo/backend/internal/service"
)

// SyncHandler receives the mirror's push stream. The mirror authenticates
// with a shared token rather than a user JWT, and names the user it is
// pushing for in the event envelope.
type SyncHandler struct {
	recon *service.SyncReconciler
	token string
}

type syncEventRequest struct {
	UserID string              `json:"userId"`
	Event  service.RemoteEvent `json:"event"`
}

func NewSyncHandler(recon *service.SyncReconciler, token string) *SyncHandler {
	return &SyncHandler{recon: recon, token: token}
}

func (h *SyncHandler) HandleEvent(c *gin.Context) {
	if h.token == "" || subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Sync-Token")), []byte(h.token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"code": "unauthorized", "message": "invalid sync token"},
		})
		return
	}

	var req syncEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_json", "message": "invalid request body"},
		})
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_event", "message": "userId is required"},
		})
		return
	}

	if apiErr := h.recon.ApplyRemoteEvent(c.Request.Context(), req.UserID, req.Event); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true})
}
