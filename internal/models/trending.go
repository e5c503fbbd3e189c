package models

import (
	"time"
)

// TrendingScore is the derived ranking signal for one card. Each component is
// independently normalized to [0,1]; Score is their weighted sum. Rows are
// recomputed wholesale each cycle, never incrementally updated.
type TrendingScore struct {
	CardID         string    `json:"card_id" gorm:"primaryKey"`
	PriceChange    float64   `json:"price_change"`
	Volume         float64   `json:"volume"`
	SearchCount    float64   `json:"search_count"`
	SocialMentions float64   `json:"social_mentions"`
	Score          float64   `json:"score" gorm:"index"`
	ComputedAt     time.Time `json:"computed_at"`
}

// TrendingCard is the denormalized read shape served to the API.
type TrendingCard struct {
	Card               Card    `json:"card"`
	Score              float64 `json:"score"`
	PriceChangePercent float64 `json:"price_change_percent"`
}
