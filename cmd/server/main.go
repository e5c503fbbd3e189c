package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cardpulse/cardpulse/internal/api"
	"github.com/cardpulse/cardpulse/internal/cache"
	"github.com/cardpulse/cardpulse/internal/database"
	"github.com/cardpulse/cardpulse/internal/pricing"
	"github.com/cardpulse/cardpulse/internal/services"
)

func main() {
	// Database path
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./cardpulse.db"
	}

	db, err := database.Initialize(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Optional Redis tier. Without it the cache runs memory-only.
	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unavailable at %s, continuing with memory cache only: %v", addr, err)
		} else {
			rdb = client
			log.Printf("Redis cache tier connected: %s", addr)
		}
		pingCancel()
	}

	cacheSize := 10000
	if sizeStr := os.Getenv("CACHE_MEM_ENTRIES"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil && size > 0 {
			cacheSize = size
		}
	}
	tiered, err := cache.NewTieredCache(cacheSize, rdb)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	coalescer := cache.NewCoalescer(tiered)

	// Upstream pricing client
	apiKey := os.Getenv("PRICES_API_KEY")
	dailyLimit := 100 // Default free tier limit
	if limitStr := os.Getenv("PRICES_DAILY_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			dailyLimit = limit
		}
	}
	client := pricing.NewClient(apiKey, dailyLimit)
	if !client.Configured() {
		log.Println("PRICES_API_KEY not set, upstream price fetches will fail until configured")
	}

	// Initialize services
	syncEngine := services.NewPriceSyncEngine(db, client, tiered, coalescer)
	alertEngine := services.NewAlertEngine(db, tiered, services.NewQueueSink(db))
	trendingEngine := services.NewTrendingEngine(db, tiered)
	collectionService := services.NewCollectionService(db)
	worker := services.NewWorker(syncEngine, alertEngine, trendingEngine, client)

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in background with panic recovery
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("PANIC in price worker: %v - restarting in 30 seconds", r)
					}
				}()
				worker.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				log.Println("Price worker restarting after panic recovery...")
			}
		}
	}()

	// Setup router. No cert provider is wired yet; the endpoint reports
	// itself unconfigured until one exists.
	router := api.SetupRouter(syncEngine, worker, alertEngine, trendingEngine, collectionService, nil)

	// Get port from environment
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cancel the context to stop the worker
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Printf("Redis close error: %v", err)
		}
	}

	log.Println("Server exited")
}
