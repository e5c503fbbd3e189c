package api

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardpulse/cardpulse/internal/api/handlers"
	"github.com/cardpulse/cardpulse/internal/metrics"
	"github.com/cardpulse/cardpulse/internal/services"
)

func SetupRouter(engine *services.PriceSyncEngine, worker *services.Worker, alerts *services.AlertEngine, trending *services.TrendingEngine, collection *services.CollectionService, certs services.CertLookup) *gin.Engine {
	router := gin.Default()

	// CORS configuration - allow origins from environment or use defaults
	config := cors.DefaultConfig()
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.AllowOrigins = strings.Split(corsOrigins, ",")
	} else {
		config.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"}
	config.AllowCredentials = false // Explicitly set
	router.Use(cors.New(config))
	router.Use(instrument())

	// Initialize handlers
	priceHandler := handlers.NewPriceHandler(engine, worker)
	alertHandler := handlers.NewAlertHandler(alerts)
	trendingHandler := handlers.NewTrendingHandler(trending)
	collectionHandler := handlers.NewCollectionHandler(collection)
	adminHandler := handlers.NewAdminHandler(engine, trending)
	certHandler := handlers.NewCertHandler(certs)

	// API routes
	api := router.Group("/api")
	{
		cards := api.Group("/cards")
		{
			cards.GET("/:id/prices", priceHandler.GetCardPrices)
			cards.POST("/:id/refresh-price", priceHandler.RefreshCardPrice)
			cards.POST("/:id/search-event", trendingHandler.RecordSearchEvent)
		}

		alertsGroup := api.Group("/alerts")
		{
			alertsGroup.POST("", alertHandler.CreateAlert)
			alertsGroup.GET("", alertHandler.ListAlerts)
			alertsGroup.POST("/:id/toggle", alertHandler.ToggleAlert)
			alertsGroup.DELETE("/:id", alertHandler.DeleteAlert)
		}

		api.GET("/trending", trendingHandler.GetTrending)
		api.GET("/collection/cost-basis", collectionHandler.GetCostBasis)
		api.GET("/certs/:number", certHandler.GetCert)

		sync := api.Group("/sync")
		{
			sync.GET("/status", priceHandler.GetSyncStatus)
		}

		admin := api.Group("/admin")
		{
			admin.POST("/sync", adminHandler.TriggerSync)
			admin.POST("/import-set/:externalId", adminHandler.ImportSet)
			admin.POST("/import-all-sets", adminHandler.ImportAllSets)
			admin.POST("/recompute-trending", adminHandler.RecomputeTrending)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// instrument records request counts and latencies per route pattern.
func instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
