package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tempo/backend/internal/middleware"
	"tempo/backend/internal/model"
	"tempo/backend/internal/service"
)

type WorkdayHandler struct {
	workday *service.WorkdayService
	flow    *service.FlowService
	paused  *service.PausedService
	ledger  *service.LedgerService
	recon   *service.SyncReconciler
}

func NewWorkdayHandler(
	workday *service.WorkdayService,
	flow *service.FlowService,
	paused *service.PausedService,
	ledger *service.LedgerService,
	recon *service.SyncReconciler,
) *WorkdayHandler {
	return &WorkdayHandler{
		workday: workday,
		flow:    flow,
		paused:  paused,
		ledger:  ledger,
		recon:   recon,
	}
}

type manualEntryRequest struct {
	Item          string `json:"item"`
	Type          string `json:"type"`
	Duration      string `json:"duration"`
	ResumeEntryID string `json:"resumeEntryId"`
}

type flowStartRequest struct {
	Item          string `json:"item"`
	Type          string `json:"type"`
	Resolution    string `json:"resolution"`
	PausedChoice  string `json:"pausedChoice"`
	ResumeEntryID string `json:"resumeEntryId"`
}

type flowStopRequest struct {
	Finalize bool `json:"finalize"`
}

type flowEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *WorkdayHandler) GetState(c *gin.Context) {
	userID := middleware.UserID(c)
	state := h.workday.State(c.Request.Context(), userID, time.Now())
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *WorkdayHandler) ListTransactions(c *gin.Context) {
	userID := middleware.UserID(c)
	transactions := h.ledger.Transactions(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{
		"transactions":   transactions,
		"balanceSeconds": h.ledger.Balance(c.Request.Context(), userID),
	})
}

func (h *WorkdayHandler) AddTransaction(c *gin.Context) {
	var req manualEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_json", "message": "invalid request body"},
		})
		return
	}

	userID := middleware.UserID(c)
	tx, apiErr := h.workday.AddManual(c.Request.Context(), userID, service.ManualEntryInput{
		Item:          req.Item,
		Type:          req.Type,
		Duration:      req.Duration,
		ResumeEntryID: req.ResumeEntryID,
	}, time.Now())
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

func (h *WorkdayHandler) DeleteTransaction(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_index", "message": "index must be a number"},
		})
		return
	}

	userID := middleware.UserID(c)
	removed, apiErr := h.recon.Delete(c.Request.Context(), userID, index)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"removed":        removed,
		"balanceSeconds": h.ledger.Balance(c.Request.Context(), userID),
	})
}

// FlowStart either starts the timer or answers 409 with the pending decision
// the client must resolve and re-post.
func (h *WorkdayHandler) FlowStart(c *gin.Context) {
	var req flowStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_json", "message": "invalid request body"},
		})
		return
	}

	userID := middleware.UserID(c)
	result, apiErr := h.flow.Start(c.Request.Context(), userID, service.StartRequest{
		Item:          req.Item,
		Type:          req.Type,
		Resolution:    req.Resolution,
		PausedChoice:  req.PausedChoice,
		ResumeEntryID: req.ResumeEntryID,
	}, time.Now())
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	if result.Decision != nil {
		c.JSON(http.StatusConflict, gin.H{"decision": result.Decision})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (h *WorkdayHandler) FlowStop(c *gin.Context) {
	var req flowStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_json", "message": "invalid request body"},
		})
		return
	}

	userID := middleware.UserID(c)
	result, apiErr := h.flow.Stop(c.Request.Context(), userID, req.Finalize, time.Now())
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (h *WorkdayHandler) FlowEnabled(c *gin.Context) {
	var req flowEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_json", "message": "invalid request body"},
		})
		return
	}

	userID := middleware.UserID(c)
	settings, apiErr := h.flow.SetEnabled(c.Request.Context(), userID, req.Enabled, time.Now())
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *WorkdayHandler) ListPaused(c *gin.Context) {
	userID := middleware.UserID(c)
	c.JSON(http.StatusOK, gin.H{"paused": h.paused.All(c.Request.Context(), userID)})
}

type pausedPatchRequest struct {
	Key                string `json:"key"`
	AccumulatedSeconds *int   `json:"accumulatedSeconds"`
}

// UpdatePaused adjusts one paused entry in place, typically after the user
// corrects the accumulated time by hand.
func (h *WorkdayHandler) UpdatePaused(c *gin.Context) {
	var req pausedPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_json", "message": "invalid request body"},
		})
		return
	}

	userID := middleware.UserID(c)
	entry, apiErr := h.paused.Update(c.Request.Context(), userID, req.Key, c.Param("id"), req.AccumulatedSeconds, time.Now())
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

func (h *WorkdayHandler) GetRecommendation(c *gin.Context) {
	userID := middleware.UserID(c)
	rec := h.workday.Recommendation(c.Request.Context(), userID, c.Query("mode"), time.Now())
	c.JSON(http.StatusOK, gin.H{
		"recommendation": rec,
		"followedCount":  h.workday.FollowedCount(userID),
	})
}

func (h *WorkdayHandler) GetGuide(c *gin.Context) {
	userID := middleware.UserID(c)
	path := h.workday.Guide(c.Request.Context(), userID, c.Query("mode"))
	c.JSON(http.StatusOK, gin.H{"guide": path})
}

func (h *WorkdayHandler) GetSettings(c *gin.Context) {
	userID := middleware.UserID(c)
	state := h.workday.State(c.Request.Context(), userID, time.Now())
	c.JSON(http.StatusOK, gin.H{"settings": state.Settings})
}

func (h *WorkdayHandler) UpdateSettings(c *gin.Context) {
	var settings model.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_json", "message": "invalid request body"},
		})
		return
	}

	userID := middleware.UserID(c)
	updated, apiErr := h.workday.UpdateSettings(c.Request.Context(), userID, settings)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": updated})
}

func (h *WorkdayHandler) Export(c *gin.Context) {
	userID := middleware.UserID(c)
	c.JSON(http.StatusOK, h.workday.Export(c.Request.Context(), userID))
}
