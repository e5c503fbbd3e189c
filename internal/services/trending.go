package services

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardpulse/cardpulse/internal/cache"
	"github.com/cardpulse/cardpulse/internal/metrics"
	"github.com/cardpulse/cardpulse/internal/models"
)

// Normalization caps: each raw signal is clamped to [0,1] by dividing by its
// cap. Fixed design constants, not learned values.
const (
	TrendingPriceChangeCap = 50.0   // percent
	TrendingVolumeCap      = 100.0  // history rows in 24h
	TrendingSearchCap      = 1000.0 // searches in 24h
	TrendingSocialCap      = 50.0   // mentions in 24h
)

// Component weights. These must sum to exactly 1.0; a test asserts it.
const (
	TrendingWeightPriceChange = 0.30
	TrendingWeightVolume      = 0.25
	TrendingWeightSearches    = 0.25
	TrendingWeightSocial      = 0.20
)

const (
	trendingWindow    = 24 * time.Hour
	trendingCacheKey  = "trending:top"
	trendingCacheTTL  = 15 * time.Minute
	trendingCacheSize = 50
)

// TrendingEngine derives per-card trending scores from price history and
// analytics counters, and serves a cached top-N list.
type TrendingEngine struct {
	db    *gorm.DB
	cache *cache.TieredCache
}

// NewTrendingEngine wires the engine.
func NewTrendingEngine(db *gorm.DB, tiered *cache.TieredCache) *TrendingEngine {
	return &TrendingEngine{db: db, cache: tiered}
}

func normalize(raw, limit float64) float64 {
	return math.Min(math.Abs(raw)/limit, 1)
}

// Score combines the four signals into one weighted score in [0,1].
func Score(priceChangePercent, volume, searchCount, socialMentions float64) float64 {
	return TrendingWeightPriceChange*normalize(priceChangePercent, TrendingPriceChangeCap) +
		TrendingWeightVolume*normalize(volume, TrendingVolumeCap) +
		TrendingWeightSearches*normalize(searchCount, TrendingSearchCap) +
		TrendingWeightSocial*normalize(socialMentions, TrendingSocialCap)
}

// Recompute replaces every trending score from the trailing 24h window and
// refreshes the cached top list. Full replace each cycle, never incremental.
func (t *TrendingEngine) Recompute(ctx context.Context) error {
	start := time.Now()
	since := start.Add(-trendingWindow)

	var cardIDs []string
	if err := t.db.Model(&models.PriceHistory{}).
		Where("grade_key = ?", models.GradeRaw).
		Distinct("card_id").Pluck("card_id", &cardIDs).Error; err != nil {
		return err
	}

	scored := 0
	for _, cardID := range cardIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		score, err := t.scoreCard(cardID, since, start)
		if err != nil {
			log.Printf("Trending: failed to score %s: %v", cardID, err)
			continue
		}

		if err := t.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "card_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"price_change", "volume", "search_count", "social_mentions", "score", "computed_at"}),
		}).Create(score).Error; err != nil {
			log.Printf("Trending: failed to save score for %s: %v", cardID, err)
			continue
		}
		scored++
	}

	t.cacheTopList(ctx)

	metrics.TrendingRecomputeDuration.Observe(time.Since(start).Seconds())
	metrics.TrendingCardsScored.Set(float64(scored))
	log.Printf("Trending: recomputed %d scores in %v", scored, time.Since(start))
	return nil
}

// scoreCard derives one card's trending score from the window.
func (t *TrendingEngine) scoreCard(cardID string, since, now time.Time) (*models.TrendingScore, error) {
	// 24h percent change from the two most recent raw observations. Fewer
	// than two points means a zero change component: no divide-by-zero.
	var recent []models.PriceHistory
	if err := t.db.Where("card_id = ? AND grade_key = ?", cardID, models.GradeRaw).
		Order("recorded_at DESC").Limit(2).Find(&recent).Error; err != nil {
		return nil, err
	}
	changePercent := 0.0
	if len(recent) == 2 && recent[1].Price != 0 {
		changePercent = (recent[0].Price - recent[1].Price) / recent[1].Price * 100
	}

	var volume int64
	if err := t.db.Model(&models.PriceHistory{}).
		Where("card_id = ? AND recorded_at >= ?", cardID, since).
		Count(&volume).Error; err != nil {
		return nil, err
	}

	var searches int64
	if err := t.db.Model(&models.SearchEvent{}).
		Where("card_id = ? AND created_at >= ?", cardID, since).
		Count(&searches).Error; err != nil {
		return nil, err
	}

	var mentions int64
	if err := t.db.Model(&models.SocialMention{}).
		Where("card_id = ? AND created_at >= ?", cardID, since).
		Count(&mentions).Error; err != nil {
		return nil, err
	}

	return &models.TrendingScore{
		CardID:         cardID,
		PriceChange:    normalize(changePercent, TrendingPriceChangeCap),
		Volume:         normalize(float64(volume), TrendingVolumeCap),
		SearchCount:    normalize(float64(searches), TrendingSearchCap),
		SocialMentions: normalize(float64(mentions), TrendingSocialCap),
		Score:          Score(changePercent, float64(volume), float64(searches), float64(mentions)),
		ComputedAt:     now,
	}, nil
}

// cacheTopList stores the denormalized top-N list with a short TTL.
func (t *TrendingEngine) cacheTopList(ctx context.Context) {
	top, err := t.queryTop(trendingCacheSize)
	if err != nil {
		log.Printf("Trending: failed to build top list: %v", err)
		return
	}
	data, err := json.Marshal(top)
	if err != nil {
		return
	}
	t.cache.Set(ctx, trendingCacheKey, data, trendingCacheTTL)
}

// queryTop joins scores with cards and the signed 24h change.
func (t *TrendingEngine) queryTop(limit int) ([]models.TrendingCard, error) {
	var scores []models.TrendingScore
	if err := t.db.Order("score DESC").Limit(limit).Find(&scores).Error; err != nil {
		return nil, err
	}

	out := make([]models.TrendingCard, 0, len(scores))
	for _, s := range scores {
		var card models.Card
		if err := t.db.First(&card, "id = ?", s.CardID).Error; err != nil {
			continue
		}
		out = append(out, models.TrendingCard{
			Card:               card,
			Score:              s.Score,
			PriceChangePercent: t.signedChangePercent(s.CardID),
		})
	}
	return out, nil
}

// signedChangePercent recomputes the display change with its sign; the
// stored component is normalized and unsigned.
func (t *TrendingEngine) signedChangePercent(cardID string) float64 {
	var recent []models.PriceHistory
	if err := t.db.Where("card_id = ? AND grade_key = ?", cardID, models.GradeRaw).
		Order("recorded_at DESC").Limit(2).Find(&recent).Error; err != nil {
		return 0
	}
	if len(recent) < 2 || recent[1].Price == 0 {
		return 0
	}
	return (recent[0].Price - recent[1].Price) / recent[1].Price * 100
}

// GetTrendingCards serves the top-N list from cache, falling back to the
// database when the cached list is missing or shorter than requested.
func (t *TrendingEngine) GetTrendingCards(ctx context.Context, limit int) ([]models.TrendingCard, error) {
	if limit <= 0 || limit > trendingCacheSize {
		limit = trendingCacheSize
	}

	if data, ok := t.cache.Get(ctx, trendingCacheKey); ok {
		var cached []models.TrendingCard
		if err := json.Unmarshal(data, &cached); err == nil && len(cached) >= limit {
			return cached[:limit], nil
		}
	}

	return t.queryTop(limit)
}

// RecordSearch appends one search analytics event for trending.
func (t *TrendingEngine) RecordSearch(cardID, query string) {
	event := models.SearchEvent{CardID: cardID, Query: query, CreatedAt: time.Now()}
	if err := t.db.Create(&event).Error; err != nil {
		log.Printf("Trending: failed to record search for %s: %v", cardID, err)
	}
}
