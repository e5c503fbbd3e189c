package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cardpulse/cardpulse/internal/services"
)

type CertHandler struct {
	lookup services.CertLookup
}

func NewCertHandler(lookup services.CertLookup) *CertHandler {
	return &CertHandler{lookup: lookup}
}

// GetCert looks up a grading certificate by number. Returns 503 when no
// cert provider is configured.
func (h *CertHandler) GetCert(c *gin.Context) {
	if h.lookup == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cert lookup is not configured"})
		return
	}

	certNumber := c.Param("number")
	if certNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cert number is required"})
		return
	}

	data, err := h.lookup.Lookup(c.Request.Context(), certNumber)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if !data.IsValid {
		c.JSON(http.StatusNotFound, gin.H{"error": "cert not found", "cert": data})
		return
	}

	c.JSON(http.StatusOK, data)
}
