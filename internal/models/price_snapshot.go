package models

import (
	"time"
)

// Condition is the physical condition bucket for ungraded ("raw") cards.
type Condition string

const (
	ConditionNearMint         Condition = "near-mint"
	ConditionLightlyPlayed    Condition = "lightly-played"
	ConditionModeratelyPlayed Condition = "moderately-played"
	ConditionHeavilyPlayed    Condition = "heavily-played"
)

// GradeRaw is the grade key used by alerts and history rows for ungraded cards.
const GradeRaw = "raw"

// AllConditions returns every raw condition bucket.
func AllConditions() []Condition {
	return []Condition{
		ConditionNearMint,
		ConditionLightlyPlayed,
		ConditionModeratelyPlayed,
		ConditionHeavilyPlayed,
	}
}

// GradedStats holds the per-grade price distribution from the upstream API.
type GradedStats struct {
	Average     *float64 `json:"average"`
	Median      *float64 `json:"median"`
	Low         *float64 `json:"low"`
	High        *float64 `json:"high"`
	SampleCount int      `json:"sample_count"`
}

// PriceSnapshot is the best-known pricing for one (card, variant) at a point
// in time. Snapshots are replaced wholesale on every successful fetch; a card
// with no pricing has no snapshot row at all, never an empty one.
type PriceSnapshot struct {
	ID           uint                   `json:"id" gorm:"primaryKey"`
	CardID       string                 `json:"card_id" gorm:"not null;uniqueIndex:idx_snapshot_card_variant"`
	VariantID    string                 `json:"variant_id" gorm:"not null;uniqueIndex:idx_snapshot_card_variant;default:''"`
	RawPrices    map[Condition]*float64 `json:"raw_prices" gorm:"serializer:json"`
	GradedPrices map[string]GradedStats `json:"graded_prices" gorm:"serializer:json"`
	FetchedAt    time.Time              `json:"fetched_at"`
	ExpiresAt    time.Time              `json:"expires_at"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// IsEmpty reports whether the snapshot carries no pricing at all.
func (s *PriceSnapshot) IsEmpty() bool {
	for _, p := range s.RawPrices {
		if p != nil {
			return false
		}
	}
	return len(s.GradedPrices) == 0
}

// IsExpired reports whether the snapshot is past its freshness window.
func (s *PriceSnapshot) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// NearMintPrice returns the raw near-mint price, or nil if unknown.
func (s *PriceSnapshot) NearMintPrice() *float64 {
	if s.RawPrices == nil {
		return nil
	}
	return s.RawPrices[ConditionNearMint]
}

// FetchState is the per-card sync bookkeeping row. AttemptCount only grows
// within a retry window; once HasLocalImage is set no more asset fetches run.
type FetchState struct {
	CardID        string     `json:"card_id" gorm:"primaryKey"`
	ExternalID    *string    `json:"external_id"`
	AttemptCount  int        `json:"attempt_count"`
	LastFetchAt   *time.Time `json:"last_fetch_at" gorm:"index"`
	HasLocalImage bool       `json:"has_local_image"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
