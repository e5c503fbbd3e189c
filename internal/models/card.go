package models

import (
	"time"
)

// Card is a single printing of a trading card. The ID is the natural
// upstream identifier so imports stay idempotent across runs.
type Card struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	SetID         string    `json:"set_id" gorm:"index;uniqueIndex:idx_card_set_number"`
	Name          string    `json:"name" gorm:"not null;index"`
	Number        string    `json:"number" gorm:"uniqueIndex:idx_card_set_number"`
	Rarity        string    `json:"rarity"`
	ImageURL      string    `json:"image_url"`
	HasLocalImage bool      `json:"has_local_image"`
	ReleaseIndex  int       `json:"release_index" gorm:"index"` // higher = more recent
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CardSet groups cards by their upstream set. ImportedAt marks a completed
// bulk import; re-importing only moves it forward.
type CardSet struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	ExternalID string     `json:"external_id" gorm:"uniqueIndex"`
	Name       string     `json:"name" gorm:"not null"`
	Series     string     `json:"series"`
	TotalCards int        `json:"total_cards"`
	ImportedAt *time.Time `json:"imported_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
