package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cardpulse/cardpulse/internal/services"
)

type AdminHandler struct {
	engine   *services.PriceSyncEngine
	trending *services.TrendingEngine
}

func NewAdminHandler(engine *services.PriceSyncEngine, trending *services.TrendingEngine) *AdminHandler {
	return &AdminHandler{engine: engine, trending: trending}
}

// TriggerSync runs one synchronous batch of stale-card refreshes.
// Accepts ?batch_size=N (default 100).
func (h *AdminHandler) TriggerSync(c *gin.Context) {
	batchSize := 100
	if raw := c.Query("batch_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batch_size must be a positive integer"})
			return
		}
		batchSize = parsed
	}

	result, err := h.engine.SyncStaleCards(c.Request.Context(), batchSize)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ImportSet imports the card catalog for one upstream set.
func (h *AdminHandler) ImportSet(c *gin.Context) {
	externalID := c.Param("externalId")
	if externalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "set id is required"})
		return
	}

	result, err := h.engine.ImportSet(c.Request.Context(), externalID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ImportAllSets imports every upstream set, newest and high-interest
// sets first. This can take a while; it runs synchronously on purpose so
// the operator sees the outcome.
func (h *AdminHandler) ImportAllSets(c *gin.Context) {
	imported, errs, err := h.engine.ImportAllSets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "imported": imported})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "errors": errs})
}

// RecomputeTrending forces an immediate trending score recompute.
func (h *AdminHandler) RecomputeTrending(c *gin.Context) {
	if err := h.trending.Recompute(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recomputed": true})
}
