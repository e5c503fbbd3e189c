package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardpulse/cardpulse/internal/services"
)

type CollectionHandler struct {
	collection *services.CollectionService
}

func NewCollectionHandler(collection *services.CollectionService) *CollectionHandler {
	return &CollectionHandler{collection: collection}
}

// GetCostBasis answers "what was this card worth on a given date". Query
// params: card_id (required), grade, company, date (YYYY-MM-DD, defaults
// to today).
func (h *CollectionHandler) GetCostBasis(c *gin.Context) {
	cardID := c.Query("card_id")
	if cardID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card_id is required"})
		return
	}

	at := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		// End of day so same-day history rows are included.
		at = parsed.Add(24*time.Hour - time.Nanosecond)
	}

	result, err := h.collection.CostBasis(c.Request.Context(), cardID, c.Query("grade"), c.Query("company"), at)
	if err != nil {
		if errors.Is(err, services.ErrNoPriceKnown) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no price known for card"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
