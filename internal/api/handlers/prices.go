package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cardpulse/cardpulse/internal/services"
)

type PriceHandler struct {
	engine *services.PriceSyncEngine
	worker *services.Worker
}

func NewPriceHandler(engine *services.PriceSyncEngine, worker *services.Worker) *PriceHandler {
	return &PriceHandler{engine: engine, worker: worker}
}

// GetCardPrices returns the best available pricing for a card. Query params:
// refresh=true bypasses the cache, graded=true includes graded prices.
// Upstream failures degrade to stale data; only a card with no snapshot at
// all produces an error response.
func (h *PriceHandler) GetCardPrices(c *gin.Context) {
	cardID := c.Param("id")
	if cardID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card id is required"})
		return
	}

	opts := services.PriceOptions{
		ForceRefresh:  c.Query("refresh") == "true",
		IncludeGraded: c.Query("graded") == "true",
	}

	result, err := h.engine.GetWithPrices(c.Request.Context(), cardID, opts)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// RefreshCardPrice queues a card for an urgent background refresh and
// returns its queue position.
func (h *PriceHandler) RefreshCardPrice(c *gin.Context) {
	cardID := c.Param("id")
	if cardID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card id is required"})
		return
	}

	position := h.worker.QueueRefresh(cardID)
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "position": position})
}

// GetSyncStatus returns worker and quota status.
func (h *PriceHandler) GetSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.GetStatus())
}
