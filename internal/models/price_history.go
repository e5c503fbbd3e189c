package models

import (
	"time"
)

// PriceHistory is an append-only record of a price observation. GradeKey is
// either GradeRaw or a normalized graded key (e.g. "psa10"). Trending reads
// these rows for 24h change and volume; cost-basis lookups read them by date.
type PriceHistory struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	CardID         string    `json:"card_id" gorm:"not null;index:idx_history_card_time"`
	VariantID      string    `json:"variant_id" gorm:"not null;default:''"`
	GradeKey       string    `json:"grade_key" gorm:"not null;default:'raw'"`
	GradingCompany string    `json:"grading_company"`
	Price          float64   `json:"price"`
	RecordedAt     time.Time `json:"recorded_at" gorm:"index:idx_history_card_time"`
}

// SearchEvent records one user search hit against a card (search analytics
// source for the trending signal).
type SearchEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CardID    string    `json:"card_id" gorm:"not null;index:idx_search_card_time"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_search_card_time"`
}

// SocialMention records one observed social reference to a card.
type SocialMention struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CardID    string    `json:"card_id" gorm:"not null;index:idx_social_card_time"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_social_card_time"`
}
