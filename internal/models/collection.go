package models

import (
	"time"
)

// CollectionItem is one owned copy of a card. The price subsystem only
// touches collections for cost-basis lookups; everything else lives in the
// CRUD layer.
type CollectionItem struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         string    `json:"user_id" gorm:"not null;index"`
	CardID         string    `json:"card_id" gorm:"not null;index"`
	Card           Card      `json:"card" gorm:"foreignKey:CardID"`
	Grade          string    `json:"grade" gorm:"not null;default:'raw'"`
	GradingCompany string    `json:"grading_company"`
	Quantity       int       `json:"quantity" gorm:"default:1"`
	CostBasis      *float64  `json:"cost_basis"`
	AcquiredAt     time.Time `json:"acquired_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// CostBasisResult is the best-known price for a (card, grade, date) lookup.
type CostBasisResult struct {
	CardID   string    `json:"card_id"`
	GradeKey string    `json:"grade_key"`
	Price    float64   `json:"price"`
	AsOf     time.Time `json:"as_of"`
	Source   string    `json:"source"` // "history" or "current"
}
