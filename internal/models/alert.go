package models

import (
	"time"
)

// AlertDirection selects which side of a price move an alert watches.
type AlertDirection string

const (
	DirectionUp   AlertDirection = "up"
	DirectionDown AlertDirection = "down"
	DirectionBoth AlertDirection = "both"
)

// Matches reports whether a percent change in the given direction should fire.
func (d AlertDirection) Matches(percentChange float64) bool {
	switch d {
	case DirectionUp:
		return percentChange > 0
	case DirectionDown:
		return percentChange < 0
	case DirectionBoth:
		return true
	default:
		return false
	}
}

// DeliveryMethod is how a triggered alert should be delivered.
type DeliveryMethod string

const (
	DeliveryEmail DeliveryMethod = "email"
	DeliveryPush  DeliveryMethod = "push"
)

// PriceAlert is a user's standing request to be notified when a card's price
// moves past a threshold. Alerts are edge-triggered: after firing, the
// baseline resets to the price that fired it, so the same absolute move never
// fires twice.
type PriceAlert struct {
	ID               string         `json:"id" gorm:"primaryKey"`
	UserID           string         `json:"user_id" gorm:"not null;index"`
	CardID           string         `json:"card_id" gorm:"not null;index"`
	VariantID        string         `json:"variant_id" gorm:"not null;default:''"`
	Grade            string         `json:"grade" gorm:"not null;default:'raw'"`
	GradingCompany   string         `json:"grading_company"`
	ThresholdPercent float64        `json:"threshold_percent"`
	Direction        AlertDirection `json:"direction" gorm:"not null;default:'both'"`
	BaselinePrice    *float64       `json:"baseline_price"`
	Active           bool           `json:"active" gorm:"default:true;index"`
	LastTriggeredAt  *time.Time     `json:"last_triggered_at"`
	TriggerCount     int            `json:"trigger_count"`
	DeliveryMethod   DeliveryMethod `json:"delivery_method" gorm:"not null;default:'email'"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Notification is one queued delivery record. The queue is fire-and-forget:
// each alert trigger enqueues exactly one row; delivery is out of scope.
type Notification struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	UserID         string         `json:"user_id" gorm:"not null;index"`
	AlertID        string         `json:"alert_id" gorm:"index"`
	CardID         string         `json:"card_id"`
	Message        string         `json:"message"`
	DeliveryMethod DeliveryMethod `json:"delivery_method"`
	CreatedAt      time.Time      `json:"created_at"`
	SentAt         *time.Time     `json:"sent_at"`
}

// CreateAlertRequest is the API payload for creating an alert.
type CreateAlertRequest struct {
	UserID           string         `json:"user_id"`
	CardID           string         `json:"card_id" binding:"required"`
	VariantID        string         `json:"variant_id"`
	Grade            string         `json:"grade"`
	GradingCompany   string         `json:"grading_company"`
	ThresholdPercent float64        `json:"threshold_percent" binding:"required"`
	Direction        AlertDirection `json:"direction"`
	DeliveryMethod   DeliveryMethod `json:"delivery_method"`
}
