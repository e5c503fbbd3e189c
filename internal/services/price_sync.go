package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardpulse/cardpulse/internal/cache"
	"github.com/cardpulse/cardpulse/internal/metrics"
	"github.com/cardpulse/cardpulse/internal/models"
	"github.com/cardpulse/cardpulse/internal/pricing"
)

const (
	// PriceStalenessThreshold is how old a snapshot can be before batch sync
	// picks the card up again.
	PriceStalenessThreshold = 24 * time.Hour

	// syncSubBatchSize is how many cards are fetched between cooperative
	// delays, keeping batch jobs under the upstream's burst limits.
	syncSubBatchSize = 10

	// syncSubBatchDelay is the pause between sub-batches.
	syncSubBatchDelay = 500 * time.Millisecond

	// maxSyncErrors caps the error list returned from a batch so a bad day
	// upstream doesn't produce an unbounded failure payload.
	maxSyncErrors = 10
)

// PriceOptions tunes a single interactive price read.
type PriceOptions struct {
	ForceRefresh  bool
	IncludeGraded bool
}

// PriceResult is what interactive reads return: the snapshot, whether it was
// served from cache, and how stale it is when served past its expiry.
type PriceResult struct {
	Snapshot   *models.PriceSnapshot `json:"prices"`
	FromCache  bool                  `json:"from_cache"`
	StaleHours *float64              `json:"stale_hours,omitempty"`
}

// SyncResult summarizes one batch sync invocation.
type SyncResult struct {
	Updated  int      `json:"updated"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	Duration string   `json:"duration"`
}

// ImportResult summarizes one set import.
type ImportResult struct {
	SetID         string `json:"set_id"`
	CardsUpserted int    `json:"cards_upserted"`
}

// PriceSyncEngine fetches authoritative prices, normalizes them, and writes
// through the tiered cache and the database. Reads degrade to stale data on
// upstream failure rather than erroring.
type PriceSyncEngine struct {
	db        *gorm.DB
	source    pricing.Source
	cache     *cache.TieredCache
	coalescer *cache.Coalescer
}

// NewPriceSyncEngine wires the engine.
func NewPriceSyncEngine(db *gorm.DB, source pricing.Source, tiered *cache.TieredCache, coalescer *cache.Coalescer) *PriceSyncEngine {
	return &PriceSyncEngine{
		db:        db,
		source:    source,
		cache:     tiered,
		coalescer: coalescer,
	}
}

// SnapshotCacheKey is the fast-tier key for a card's price snapshot.
func SnapshotCacheKey(cardID, variantID string) string {
	if variantID == "" {
		return "prices:" + cardID
	}
	return "prices:" + cardID + ":" + variantID
}

// GetWithPrices returns the best available pricing for a card.
//
// Fallback order: fast-tier cache, coalesced upstream fetch, stale snapshot
// from the database. Only when no snapshot has ever been persisted does an
// upstream failure surface to the caller.
func (e *PriceSyncEngine) GetWithPrices(ctx context.Context, cardID string, opts PriceOptions) (*PriceResult, error) {
	key := SnapshotCacheKey(cardID, "")

	if !opts.ForceRefresh {
		if data, ok := e.cache.Get(ctx, key); ok {
			var snap models.PriceSnapshot
			if err := json.Unmarshal(data, &snap); err == nil {
				return &PriceResult{Snapshot: e.shape(&snap, opts), FromCache: true}, nil
			}
			// A corrupt cache entry falls through to a fresh fetch.
			e.cache.Delete(ctx, key)
		}
	}

	producer := func(ctx context.Context) ([]byte, time.Duration, error) {
		snap, err := e.fetchAndPersist(ctx, cardID)
		if err != nil {
			return nil, 0, err
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, 0, err
		}
		return data, pricing.TTLForPrice(snap.NearMintPrice()), nil
	}

	var data []byte
	var err error
	if opts.ForceRefresh {
		// Explicit refreshes bypass coalescing so the user always gets a
		// fetch that started after their request.
		var ttl time.Duration
		data, ttl, err = producer(ctx)
		if err == nil {
			e.cache.Set(ctx, key, data, ttl)
		}
	} else {
		data, err = e.coalescer.Do(ctx, key, producer)
	}

	if err == nil {
		var snap models.PriceSnapshot
		if uerr := json.Unmarshal(data, &snap); uerr != nil {
			return nil, uerr
		}
		return &PriceResult{Snapshot: e.shape(&snap, opts)}, nil
	}

	// Upstream failed: fall back to the last persisted snapshot, however old.
	stale, dbErr := e.loadSnapshot(cardID, "")
	if dbErr != nil || stale == nil {
		return nil, fmt.Errorf("price fetch failed for %s: %w", cardID, err)
	}

	hours := time.Since(stale.FetchedAt).Hours()
	metrics.StaleFallbacksTotal.Inc()
	log.Printf("Price sync: serving stale snapshot for %s (%.1fh old) after upstream error: %v", cardID, hours, err)
	return &PriceResult{Snapshot: e.shape(stale, opts), FromCache: true, StaleHours: &hours}, nil
}

// shape strips graded prices when the caller didn't ask for them. The cached
// copy always keeps everything.
func (e *PriceSyncEngine) shape(snap *models.PriceSnapshot, opts PriceOptions) *models.PriceSnapshot {
	if opts.IncludeGraded || len(snap.GradedPrices) == 0 {
		return snap
	}
	trimmed := *snap
	trimmed.GradedPrices = nil
	return &trimmed
}

// loadSnapshot reads the persisted snapshot for a card, expired or not.
func (e *PriceSyncEngine) loadSnapshot(cardID, variantID string) (*models.PriceSnapshot, error) {
	var snap models.PriceSnapshot
	err := e.db.Where("card_id = ? AND variant_id = ?", cardID, variantID).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// fetchAndPersist performs one upstream fetch and writes the result through
// the database: snapshot upsert, history append, fetch-state bookkeeping.
func (e *PriceSyncEngine) fetchAndPersist(ctx context.Context, cardID string) (*models.PriceSnapshot, error) {
	externalID := cardID
	var state models.FetchState
	if err := e.db.Where("card_id = ?", cardID).First(&state).Error; err == nil {
		if state.ExternalID != nil && *state.ExternalID != "" {
			externalID = *state.ExternalID
		}
	}

	e.touchFetchState(cardID, externalID)

	payload, err := e.source.GetCard(ctx, externalID, pricing.CardOptions{IncludeEbay: true})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snap := pricing.BuildSnapshot(cardID, "", payload, now)
	if snap == nil {
		return nil, fmt.Errorf("upstream returned no pricing for %s: %w", cardID, pricing.ErrNotFound)
	}

	if err := e.persistSnapshot(snap); err != nil {
		// Storage failures degrade, they don't fail the read: the caller
		// still gets the freshly fetched data.
		log.Printf("Price sync: failed to persist snapshot for %s: %v", cardID, err)
	}
	e.appendHistory(snap, now)
	metrics.PriceUpdatesTotal.Inc()

	return snap, nil
}

// persistSnapshot replaces the snapshot wholesale, keyed by the natural
// (card_id, variant_id) pair.
func (e *PriceSyncEngine) persistSnapshot(snap *models.PriceSnapshot) error {
	return e.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "card_id"}, {Name: "variant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"raw_prices", "graded_prices", "fetched_at", "expires_at", "updated_at"}),
	}).Create(snap).Error
}

// appendHistory writes one history row per observed price point.
func (e *PriceSyncEngine) appendHistory(snap *models.PriceSnapshot, now time.Time) {
	var rows []models.PriceHistory
	if nm := snap.NearMintPrice(); nm != nil {
		rows = append(rows, models.PriceHistory{
			CardID:     snap.CardID,
			VariantID:  snap.VariantID,
			GradeKey:   models.GradeRaw,
			Price:      *nm,
			RecordedAt: now,
		})
	}
	for key, stats := range snap.GradedPrices {
		if stats.Average == nil {
			continue
		}
		rows = append(rows, models.PriceHistory{
			CardID:     snap.CardID,
			VariantID:  snap.VariantID,
			GradeKey:   key,
			Price:      *stats.Average,
			RecordedAt: now,
		})
	}
	if len(rows) == 0 {
		return
	}
	if err := e.db.Create(&rows).Error; err != nil {
		log.Printf("Price sync: failed to append history for %s: %v", snap.CardID, err)
	}
}

// touchFetchState bumps the attempt counter and last-fetch timestamp. The
// read-then-increment is unguarded: two instances may under-count, which is
// acceptable for a soft retry-limit heuristic.
func (e *PriceSyncEngine) touchFetchState(cardID, externalID string) {
	now := time.Now()
	var state models.FetchState
	err := e.db.Where("card_id = ?", cardID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = models.FetchState{CardID: cardID}
	} else if err != nil {
		log.Printf("Price sync: failed to load fetch state for %s: %v", cardID, err)
		return
	}

	state.AttemptCount++
	state.LastFetchAt = &now
	if externalID != "" && state.ExternalID == nil {
		state.ExternalID = &externalID
	}

	if err := e.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "card_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"attempt_count", "last_fetch_at", "external_id", "updated_at"}),
	}).Create(&state).Error; err != nil {
		log.Printf("Price sync: failed to save fetch state for %s: %v", cardID, err)
	}
}

// SyncStaleCards refreshes cards whose snapshot is missing or older than the
// staleness threshold, oldest first, capped at batchSize. Cards are processed
// in fixed sub-batches with a cooperative delay between them. One card's
// failure never blocks the rest; a terminal configuration error (bad or
// missing credentials) aborts the whole job early instead of failing every
// card identically.
func (e *PriceSyncEngine) SyncStaleCards(ctx context.Context, batchSize int) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	if batchSize <= 0 {
		batchSize = 100
	}

	cutoff := time.Now().Add(-PriceStalenessThreshold)
	var cards []models.Card
	err := e.db.Raw(`
		SELECT c.* FROM cards c
		LEFT JOIN fetch_states fs ON fs.card_id = c.id
		WHERE fs.last_fetch_at IS NULL OR fs.last_fetch_at < ?
		ORDER BY fs.last_fetch_at ASC NULLS FIRST
		LIMIT ?
	`, cutoff, batchSize).Scan(&cards).Error
	if err != nil {
		return nil, err
	}

	if len(cards) == 0 {
		log.Println("Price sync: no stale cards to update")
		result.Duration = time.Since(start).String()
		return result, nil
	}

	log.Printf("Price sync: refreshing %d stale cards", len(cards))

	recordErr := func(cardID string, err error) {
		result.Failed++
		metrics.SyncErrorsTotal.Inc()
		if len(result.Errors) < maxSyncErrors {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cardID, err))
		}
	}

	aborted := false
	for i := 0; i < len(cards) && !aborted; i += syncSubBatchSize {
		end := i + syncSubBatchSize
		if end > len(cards) {
			end = len(cards)
		}

		for _, card := range cards[i:end] {
			if _, err := e.fetchAndPersist(ctx, card.ID); err != nil {
				if errors.Is(err, pricing.ErrUnauthorized) || errors.Is(err, pricing.ErrNoAPIKey) {
					recordErr(card.ID, err)
					result.Errors = append(result.Errors, "aborting batch: upstream credentials rejected")
					aborted = true
					break
				}
				recordErr(card.ID, err)
				continue
			}
			result.Updated++
			e.cacheSnapshotAfterSync(ctx, card.ID)
		}

		if end < len(cards) && !aborted {
			select {
			case <-ctx.Done():
				result.Errors = append(result.Errors, "sync cancelled")
				aborted = true
			case <-time.After(syncSubBatchDelay):
			}
		}
	}

	result.Duration = time.Since(start).String()
	metrics.SyncBatchDuration.Observe(time.Since(start).Seconds())
	log.Printf("Price sync: batch done in %s (%d updated, %d failed)", result.Duration, result.Updated, result.Failed)
	return result, nil
}

// cacheSnapshotAfterSync refreshes the fast tier so interactive reads see
// the batch result immediately.
func (e *PriceSyncEngine) cacheSnapshotAfterSync(ctx context.Context, cardID string) {
	snap, err := e.loadSnapshot(cardID, "")
	if err != nil || snap == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	e.cache.Set(ctx, SnapshotCacheKey(cardID, ""), data, pricing.TTLForPrice(snap.NearMintPrice()))
}

// ImportSet pulls every card of an upstream set and upserts set, cards, and
// fetch states. The operation is idempotent: conflict-safe upserts keyed by
// natural unique keys, and the imported timestamp only moves forward.
func (e *PriceSyncEngine) ImportSet(ctx context.Context, externalSetID string) (*ImportResult, error) {
	payloads, err := e.source.GetCardsBySet(ctx, externalSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch set %s: %w", externalSetID, err)
	}

	set := models.CardSet{
		ID:         externalSetID,
		ExternalID: externalSetID,
		TotalCards: len(payloads),
	}
	if err := e.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_cards", "updated_at"}),
	}).Create(&set).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert set %s: %w", externalSetID, err)
	}

	result := &ImportResult{SetID: externalSetID}
	for i, p := range payloads {
		card := models.Card{
			ID:           p.ID,
			SetID:        externalSetID,
			Name:         p.Name,
			Number:       p.Number,
			Rarity:       p.Rarity,
			ImageURL:     p.ImageURL,
			ReleaseIndex: i,
		}
		// Conflict target is the upstream id, which doubles as the natural
		// key. A payload that reuses (set, number) under a new id still hits
		// the secondary unique index and is skipped below.
		if err := e.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "rarity", "image_url", "updated_at"}),
		}).Create(&card).Error; err != nil {
			log.Printf("Import: failed to upsert card %s (%s #%s): %v", p.ID, p.Name, p.Number, err)
			continue
		}

		externalID := p.ID
		state := models.FetchState{CardID: p.ID, ExternalID: &externalID}
		if err := e.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error; err != nil {
			log.Printf("Import: failed to seed fetch state for %s: %v", p.ID, err)
		}
		result.CardsUpserted++
	}

	now := time.Now()
	if err := e.db.Model(&models.CardSet{}).Where("external_id = ?", externalSetID).
		Update("imported_at", now).Error; err != nil {
		return result, fmt.Errorf("failed to mark set %s imported: %w", externalSetID, err)
	}

	log.Printf("Import: set %s complete (%d cards)", externalSetID, result.CardsUpserted)
	return result, nil
}

// ImportAllSets imports the upstream catalog in deterministic priority
// order: high-value vintage sets first, modern chase sets second, the rest
// by recency. Per-set errors are collected; the run continues.
func (e *PriceSyncEngine) ImportAllSets(ctx context.Context) (int, []string, error) {
	sets, err := e.source.GetSets(ctx)
	if err != nil {
		return 0, nil, err
	}

	type rankedSet struct {
		pricing.SetPayload
		priority int
	}
	ranked := make([]rankedSet, len(sets))
	for i, s := range sets {
		ranked[i] = rankedSet{SetPayload: s, priority: pricing.ImportPriority(s.Name, i)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority > ranked[j].priority
		}
		return ranked[i].ID < ranked[j].ID
	})

	imported := 0
	var errs []string
	for _, s := range ranked {
		if _, err := e.ImportSet(ctx, s.ID); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.ID, err))
			if pricing.IsTerminal(err) && errors.Is(err, pricing.ErrUnauthorized) {
				break
			}
			continue
		}
		imported++
	}
	return imported, errs, nil
}
