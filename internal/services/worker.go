package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cardpulse/cardpulse/internal/metrics"
)

// Default worker cadence. The same operations are also invocable from the
// admin endpoints; the worker is just one trigger path into idempotent jobs.
const (
	defaultSyncInterval     = 15 * time.Minute
	defaultAlertInterval    = 5 * time.Minute
	defaultTrendingInterval = 1 * time.Hour
	defaultSyncBatchSize    = 100
)

// QuotaReporter exposes the upstream client's quota counters to the worker
// and the status endpoint without coupling them to the concrete client.
type QuotaReporter interface {
	RequestsRemaining() int
	DailyLimit() int
	ResetTime() time.Time
}

// WorkerStatus is the status payload served by the API.
type WorkerStatus struct {
	LastSyncTime      time.Time `json:"last_sync_time"`
	NextSyncTime      time.Time `json:"next_sync_time"`
	CardsUpdatedToday int       `json:"cards_updated_today"`
	BatchSize         int       `json:"batch_size"`
	QueueSize         int       `json:"queue_size"`

	DailyLimit int       `json:"daily_limit"`
	Remaining  int       `json:"remaining"`
	ResetsAt   time.Time `json:"resets_at,omitempty"`
}

// Worker drives the periodic jobs: stale-card sync, alert checks, and
// trending recomputation. It also keeps the urgent queue of user-requested
// refreshes, which are processed ahead of stale cards.
type Worker struct {
	engine   *PriceSyncEngine
	alerts   *AlertEngine
	trending *TrendingEngine
	quota    QuotaReporter

	syncInterval     time.Duration
	alertInterval    time.Duration
	trendingInterval time.Duration
	batchSize        int

	mu                sync.RWMutex
	lastSyncTime      time.Time
	cardsUpdatedToday int
	lastStatsDay      time.Time

	urgentMu    sync.Mutex
	urgentQueue []string
}

// NewWorker wires the worker. quota may be nil when no upstream client is
// configured (status then reports zeros).
func NewWorker(syncEngine *PriceSyncEngine, alerts *AlertEngine, trending *TrendingEngine, quota QuotaReporter) *Worker {
	return &Worker{
		engine:           syncEngine,
		alerts:           alerts,
		trending:         trending,
		quota:            quota,
		syncInterval:     defaultSyncInterval,
		alertInterval:    defaultAlertInterval,
		trendingInterval: defaultTrendingInterval,
		batchSize:        defaultSyncBatchSize,
	}
}

// QueueRefresh adds a card to the urgent refresh queue and returns its
// 1-indexed position. Duplicates keep their existing position.
func (w *Worker) QueueRefresh(cardID string) int {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()

	for i, id := range w.urgentQueue {
		if id == cardID {
			return i + 1
		}
	}
	w.urgentQueue = append(w.urgentQueue, cardID)
	metrics.PriceQueueSize.Set(float64(len(w.urgentQueue)))
	log.Printf("Sync worker: queued refresh for card %s (queue size: %d)", cardID, len(w.urgentQueue))
	return len(w.urgentQueue)
}

// GetQueueSize returns the current urgent queue size.
func (w *Worker) GetQueueSize() int {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()
	return len(w.urgentQueue)
}

// drainUrgent takes up to max card ids off the urgent queue.
func (w *Worker) drainUrgent(max int) []string {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()

	ids := w.urgentQueue
	if len(ids) > max {
		w.urgentQueue = ids[max:]
		ids = ids[:max]
	} else {
		w.urgentQueue = nil
	}
	metrics.PriceQueueSize.Set(float64(len(w.urgentQueue)))
	return ids
}

// resetDailyStatsIfNeeded resets cardsUpdatedToday at midnight.
func (w *Worker) resetDailyStatsIfNeeded() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if w.lastStatsDay.Before(today) {
		if !w.lastStatsDay.IsZero() {
			log.Printf("Sync worker: daily stats reset (previous day: %d cards updated)", w.cardsUpdatedToday)
		}
		w.cardsUpdatedToday = 0
		w.lastStatsDay = today
	}
}

// Start runs the worker loop until the context is cancelled. An initial sync
// pass runs immediately on startup.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("Sync worker started: sync every %v, alerts every %v, trending every %v",
		w.syncInterval, w.alertInterval, w.trendingInterval)

	w.runSync(ctx)

	syncTicker := time.NewTicker(w.syncInterval)
	alertTicker := time.NewTicker(w.alertInterval)
	trendingTicker := time.NewTicker(w.trendingInterval)
	defer syncTicker.Stop()
	defer alertTicker.Stop()
	defer trendingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sync worker stopping...")
			return
		case <-syncTicker.C:
			w.runSync(ctx)
		case <-alertTicker.C:
			if _, err := w.alerts.CheckAllAlerts(ctx); err != nil {
				log.Printf("Sync worker: alert check failed: %v", err)
			}
		case <-trendingTicker.C:
			if err := w.trending.Recompute(ctx); err != nil {
				log.Printf("Sync worker: trending recompute failed: %v", err)
			}
		}
	}
}

// runSync processes urgent refreshes first, then a stale batch, and updates
// the quota gauges.
func (w *Worker) runSync(ctx context.Context) {
	w.resetDailyStatsIfNeeded()

	if w.quota != nil && w.quota.RequestsRemaining() == 0 {
		log.Printf("Sync worker: upstream quota exhausted, skipping until %s", w.quota.ResetTime().Format("15:04"))
		return
	}

	updated := 0
	for _, cardID := range w.drainUrgent(w.batchSize) {
		if _, err := w.engine.GetWithPrices(ctx, cardID, PriceOptions{ForceRefresh: true, IncludeGraded: true}); err != nil {
			log.Printf("Sync worker: urgent refresh failed for %s: %v", cardID, err)
			continue
		}
		updated++
	}

	if remaining := w.batchSize - updated; remaining > 0 {
		result, err := w.engine.SyncStaleCards(ctx, remaining)
		if err != nil {
			log.Printf("Sync worker: batch sync failed: %v", err)
		} else {
			updated += result.Updated
		}
	}

	w.mu.Lock()
	w.cardsUpdatedToday += updated
	w.lastSyncTime = time.Now()
	w.mu.Unlock()

	if w.quota != nil {
		metrics.UpstreamQuotaRemaining.Set(float64(w.quota.RequestsRemaining()))
		metrics.UpstreamQuotaLimit.Set(float64(w.quota.DailyLimit()))
	}
}

// GetStatus returns the current worker status.
func (w *Worker) GetStatus() WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := WorkerStatus{
		LastSyncTime:      w.lastSyncTime,
		NextSyncTime:      w.lastSyncTime.Add(w.syncInterval),
		CardsUpdatedToday: w.cardsUpdatedToday,
		BatchSize:         w.batchSize,
		QueueSize:         w.GetQueueSize(),
	}
	if w.quota != nil {
		status.DailyLimit = w.quota.DailyLimit()
		status.Remaining = w.quota.RequestsRemaining()
		status.ResetsAt = w.quota.ResetTime()
	}
	return status
}
