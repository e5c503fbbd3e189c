package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardpulse/cardpulse/internal/cache"
	"github.com/cardpulse/cardpulse/internal/metrics"
	"github.com/cardpulse/cardpulse/internal/models"
	"github.com/cardpulse/cardpulse/internal/pricing"
)

// ErrAlertNotFound is returned when an alert id doesn't exist or belongs to
// another user.
var ErrAlertNotFound = errors.New("alert not found")

// NotificationSink is the fire-and-forget delivery queue the alert engine
// writes to. Delivery itself is out of scope.
type NotificationSink interface {
	Enqueue(ctx context.Context, n *models.Notification) error
}

// queueSink writes notifications to the notifications table.
type queueSink struct {
	db *gorm.DB
}

// NewQueueSink returns the default table-backed notification sink.
func NewQueueSink(db *gorm.DB) NotificationSink {
	return &queueSink{db: db}
}

func (s *queueSink) Enqueue(ctx context.Context, n *models.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

// AlertCheckResult summarizes one evaluation pass over all active alerts.
type AlertCheckResult struct {
	Checked   int      `json:"checked"`
	Triggered int      `json:"triggered"`
	Errors    []string `json:"errors,omitempty"`
}

// AlertEngine evaluates standing price alerts against current snapshots.
// Alerts are edge-triggered against a moving baseline: firing resets the
// baseline to the price that fired, so the same move never fires twice.
type AlertEngine struct {
	db    *gorm.DB
	cache *cache.TieredCache
	sink  NotificationSink
}

// NewAlertEngine wires the engine.
func NewAlertEngine(db *gorm.DB, tiered *cache.TieredCache, sink NotificationSink) *AlertEngine {
	return &AlertEngine{db: db, cache: tiered, sink: sink}
}

// CreateAlert stores a new alert with its baseline set from the best
// currently-known price. A card with no known price yet gets a nil baseline
// and is skipped by check passes until one is set.
func (a *AlertEngine) CreateAlert(ctx context.Context, req models.CreateAlertRequest) (*models.PriceAlert, error) {
	if req.ThresholdPercent <= 0 {
		return nil, fmt.Errorf("threshold percent must be positive")
	}
	direction := req.Direction
	if direction == "" {
		direction = models.DirectionBoth
	}
	delivery := req.DeliveryMethod
	if delivery == "" {
		delivery = models.DeliveryEmail
	}
	grade := req.Grade
	if grade == "" {
		grade = models.GradeRaw
	}

	alert := &models.PriceAlert{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		CardID:           req.CardID,
		VariantID:        req.VariantID,
		Grade:            grade,
		GradingCompany:   req.GradingCompany,
		ThresholdPercent: req.ThresholdPercent,
		Direction:        direction,
		Active:           true,
		DeliveryMethod:   delivery,
	}

	if snap := a.loadSnapshot(ctx, alert.CardID, alert.VariantID); snap != nil {
		if price := a.resolvePrice(snap, alert); price != nil {
			alert.BaselinePrice = price
		}
	}

	if err := a.db.WithContext(ctx).Create(alert).Error; err != nil {
		return nil, err
	}
	return alert, nil
}

// ToggleAlert flips the active flag.
func (a *AlertEngine) ToggleAlert(ctx context.Context, id, userID string) (*models.PriceAlert, error) {
	var alert models.PriceAlert
	err := a.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}

	alert.Active = !alert.Active
	if err := a.db.WithContext(ctx).Model(&alert).Update("active", alert.Active).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// DeleteAlert removes an alert owned by userID.
func (a *AlertEngine) DeleteAlert(ctx context.Context, id, userID string) error {
	result := a.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.PriceAlert{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// ListAlerts returns all of a user's alerts, newest first.
func (a *AlertEngine) ListAlerts(ctx context.Context, userID string) ([]models.PriceAlert, error) {
	var alerts []models.PriceAlert
	err := a.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&alerts).Error
	return alerts, err
}

// CheckAllAlerts evaluates every active alert against its card's current
// price. Missing prices and baselines are skipped, not errors. One alert's
// failure never stops the rest; errors are collected and returned alongside
// the counts.
func (a *AlertEngine) CheckAllAlerts(ctx context.Context) (*AlertCheckResult, error) {
	var alerts []models.PriceAlert
	if err := a.db.WithContext(ctx).Where("active = ?", true).Find(&alerts).Error; err != nil {
		return nil, err
	}

	result := &AlertCheckResult{}
	for i := range alerts {
		alert := &alerts[i]
		result.Checked++
		metrics.AlertsCheckedTotal.Inc()

		fired, err := a.checkAlert(ctx, alert)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", alert.ID, err))
			continue
		}
		if fired {
			result.Triggered++
			metrics.AlertsTriggeredTotal.Inc()
		}
	}

	if result.Triggered > 0 || len(result.Errors) > 0 {
		log.Printf("Alerts: checked %d, triggered %d, %d errors", result.Checked, result.Triggered, len(result.Errors))
	}
	return result, nil
}

// checkAlert evaluates one alert and fires it if the threshold is crossed in
// the configured direction.
func (a *AlertEngine) checkAlert(ctx context.Context, alert *models.PriceAlert) (bool, error) {
	snap := a.loadSnapshot(ctx, alert.CardID, alert.VariantID)
	if snap == nil {
		return false, nil
	}

	current := a.resolvePrice(snap, alert)
	if current == nil {
		return false, nil
	}

	if alert.BaselinePrice == nil || *alert.BaselinePrice == 0 {
		return false, nil
	}

	percentChange := (*current - *alert.BaselinePrice) / *alert.BaselinePrice * 100
	if math.Abs(percentChange) < alert.ThresholdPercent || !alert.Direction.Matches(percentChange) {
		return false, nil
	}

	return true, a.fire(ctx, alert, *current, percentChange)
}

// fire enqueues one notification and resets the alert's baseline.
func (a *AlertEngine) fire(ctx context.Context, alert *models.PriceAlert, current, percentChange float64) error {
	direction := "up"
	if percentChange < 0 {
		direction = "down"
	}
	notification := &models.Notification{
		ID:             uuid.NewString(),
		UserID:         alert.UserID,
		AlertID:        alert.ID,
		CardID:         alert.CardID,
		Message:        fmt.Sprintf("Price moved %s %.1f%% to $%.2f (baseline $%.2f)", direction, math.Abs(percentChange), current, *alert.BaselinePrice),
		DeliveryMethod: alert.DeliveryMethod,
		CreatedAt:      time.Now(),
	}
	if err := a.sink.Enqueue(ctx, notification); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	metrics.NotificationsEnqueuedTotal.Inc()

	now := time.Now()
	return a.db.WithContext(ctx).Model(alert).Updates(map[string]any{
		"baseline_price":    current,
		"trigger_count":     gorm.Expr("trigger_count + 1"),
		"last_triggered_at": now,
	}).Error
}

// loadSnapshot reads a card's snapshot from the fast tier, falling back to
// the database. Alerts never trigger upstream fetches; evaluating against a
// stale snapshot is accepted.
func (a *AlertEngine) loadSnapshot(ctx context.Context, cardID, variantID string) *models.PriceSnapshot {
	if data, ok := a.cache.Get(ctx, SnapshotCacheKey(cardID, variantID)); ok {
		var snap models.PriceSnapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return &snap
		}
	}

	var snap models.PriceSnapshot
	err := a.db.WithContext(ctx).Where("card_id = ? AND variant_id = ?", cardID, variantID).First(&snap).Error
	if err != nil {
		return nil
	}
	return &snap
}

// resolvePrice picks the price an alert watches: raw near-mint for ungraded
// alerts, the matching graded average otherwise. Grade keys are normalized
// so "PSA 10" and "psa-10" resolve identically.
func (a *AlertEngine) resolvePrice(snap *models.PriceSnapshot, alert *models.PriceAlert) *float64 {
	if alert.Grade == models.GradeRaw || alert.Grade == "" {
		return snap.NearMintPrice()
	}

	key := pricing.NormalizeGradeKey(alert.GradingCompany + alert.Grade)
	if stats, ok := snap.GradedPrices[key]; ok {
		return stats.Average
	}
	return nil
}
