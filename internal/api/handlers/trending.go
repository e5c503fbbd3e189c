package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cardpulse/cardpulse/internal/services"
)

type TrendingHandler struct {
	trending *services.TrendingEngine
}

func NewTrendingHandler(trending *services.TrendingEngine) *TrendingHandler {
	return &TrendingHandler{trending: trending}
}

// GetTrending returns the current trending cards, most trending first.
// Accepts ?limit=N, capped at 50.
func (h *TrendingHandler) GetTrending(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > 50 {
		limit = 50
	}

	cards, err := h.trending.GetTrendingCards(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trending": cards, "count": len(cards)})
}

// RecordSearchEvent feeds one search hit into the trending signal.
func (h *TrendingHandler) RecordSearchEvent(c *gin.Context) {
	cardID := c.Param("id")
	if cardID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card id is required"})
		return
	}

	var body struct {
		Query string `json:"query"`
	}
	// An empty or absent body is fine; the query string is optional context.
	_ = c.ShouldBindJSON(&body)

	h.trending.RecordSearch(cardID, body.Query)
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}
