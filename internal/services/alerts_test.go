package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/cardpulse/cardpulse/internal/models"
)

func seedSnapshot(t *testing.T, db *gorm.DB, cardID string, nearMint float64) {
	t.Helper()
	now := time.Now()
	snap := models.PriceSnapshot{
		CardID:    cardID,
		RawPrices: map[models.Condition]*float64{models.ConditionNearMint: &nearMint},
		FetchedAt: now,
		ExpiresAt: now.Add(4 * time.Hour),
	}
	if err := db.Create(&snap).Error; err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
}

func updateSnapshotPrice(t *testing.T, db *gorm.DB, cardID string, nearMint float64) {
	t.Helper()
	var snap models.PriceSnapshot
	if err := db.Where("card_id = ?", cardID).First(&snap).Error; err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	snap.RawPrices[models.ConditionNearMint] = &nearMint
	if err := db.Save(&snap).Error; err != nil {
		t.Fatalf("update snapshot: %v", err)
	}
}

func newTestAlertEngine(t *testing.T, db *gorm.DB) *AlertEngine {
	t.Helper()
	return NewAlertEngine(db, newTestCache(t), NewQueueSink(db))
}

func TestCreateAlertDefaultsAndBaseline(t *testing.T) {
	db := newTestDB(t)
	engine := newTestAlertEngine(t, db)
	ctx := context.Background()

	seedSnapshot(t, db, "card-1", 100)

	alert, err := engine.CreateAlert(ctx, models.CreateAlertRequest{
		UserID:           "u1",
		CardID:           "card-1",
		ThresholdPercent: 10,
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if alert.Direction != models.DirectionBoth {
		t.Errorf("Direction = %s, want both", alert.Direction)
	}
	if alert.Grade != models.GradeRaw {
		t.Errorf("Grade = %s, want raw", alert.Grade)
	}
	if alert.DeliveryMethod != models.DeliveryEmail {
		t.Errorf("DeliveryMethod = %s, want email", alert.DeliveryMethod)
	}
	if alert.BaselinePrice == nil || *alert.BaselinePrice != 100 {
		t.Errorf("BaselinePrice = %v, want 100 from current snapshot", alert.BaselinePrice)
	}
	if !alert.Active {
		t.Error("new alerts should start active")
	}
}

func TestCreateAlertRejectsNonPositiveThreshold(t *testing.T) {
	db := newTestDB(t)
	engine := newTestAlertEngine(t, db)

	for _, threshold := range []float64{0, -5} {
		_, err := engine.CreateAlert(context.Background(), models.CreateAlertRequest{
			UserID:           "u1",
			CardID:           "card-1",
			ThresholdPercent: threshold,
		})
		if err == nil {
			t.Errorf("threshold %v should be rejected", threshold)
		}
	}
}

func TestAlertEdgeTrigger(t *testing.T) {
	db := newTestDB(t)
	engine := newTestAlertEngine(t, db)
	ctx := context.Background()

	seedSnapshot(t, db, "card-1", 100)
	alert, err := engine.CreateAlert(ctx, models.CreateAlertRequest{
		UserID:           "u1",
		CardID:           "card-1",
		ThresholdPercent: 10,
		Direction:        models.DirectionUp,
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	// +15% over baseline crosses the 10% threshold.
	updateSnapshotPrice(t, db, "card-1", 115)

	result, err := engine.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("CheckAllAlerts: %v", err)
	}
	if result.Triggered != 1 {
		t.Fatalf("Triggered = %d, want 1", result.Triggered)
	}

	var reloaded models.PriceAlert
	if err := db.First(&reloaded, "id = ?", alert.ID).Error; err != nil {
		t.Fatalf("reload alert: %v", err)
	}
	if reloaded.BaselinePrice == nil || *reloaded.BaselinePrice != 115 {
		t.Errorf("baseline after fire = %v, want 115", reloaded.BaselinePrice)
	}
	if reloaded.TriggerCount != 1 {
		t.Errorf("TriggerCount = %d, want 1", reloaded.TriggerCount)
	}
	if reloaded.LastTriggeredAt == nil {
		t.Error("LastTriggeredAt should be set after firing")
	}

	// Exactly one notification was enqueued.
	var notifications int64
	db.Model(&models.Notification{}).Where("alert_id = ?", alert.ID).Count(&notifications)
	if notifications != 1 {
		t.Errorf("notifications = %d, want 1", notifications)
	}

	// Same price again: the baseline moved, so nothing fires.
	result, err = engine.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("second CheckAllAlerts: %v", err)
	}
	if result.Triggered != 0 {
		t.Errorf("re-check Triggered = %d, want 0 (edge-triggered)", result.Triggered)
	}
}

func TestAlertDirectionFiltering(t *testing.T) {
	db := newTestDB(t)
	engine := newTestAlertEngine(t, db)
	ctx := context.Background()

	seedSnapshot(t, db, "card-1", 100)
	if _, err := engine.CreateAlert(ctx, models.CreateAlertRequest{
		UserID:           "u1",
		CardID:           "card-1",
		ThresholdPercent: 10,
		Direction:        models.DirectionDown,
	}); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	// A 20% rise crosses the threshold but in the wrong direction.
	updateSnapshotPrice(t, db, "card-1", 120)
	result, err := engine.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("CheckAllAlerts: %v", err)
	}
	if result.Triggered != 0 {
		t.Errorf("down-alert fired on a rise: Triggered = %d", result.Triggered)
	}

	// A 20% drop fires it.
	updateSnapshotPrice(t, db, "card-1", 80)
	result, err = engine.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("CheckAllAlerts: %v", err)
	}
	if result.Triggered != 1 {
		t.Errorf("down-alert on a drop: Triggered = %d, want 1", result.Triggered)
	}
}

func TestAlertSkipsWithoutBaselineOrPrice(t *testing.T) {
	db := newTestDB(t)
	engine := newTestAlertEngine(t, db)
	ctx := context.Background()

	// No snapshot exists yet, so the baseline is nil.
	alert, err := engine.CreateAlert(ctx, models.CreateAlertRequest{
		UserID:           "u1",
		CardID:           "unknown-card",
		ThresholdPercent: 5,
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if alert.BaselinePrice != nil {
		t.Errorf("baseline = %v, want nil without a snapshot", alert.BaselinePrice)
	}

	result, err := engine.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("CheckAllAlerts: %v", err)
	}
	if result.Checked != 1 || result.Triggered != 0 || len(result.Errors) != 0 {
		t.Errorf("missing price should be a silent skip, got %+v", result)
	}
}

func TestAlertGradedPriceResolution(t *testing.T) {
	db := newTestDB(t)
	engine := newTestAlertEngine(t, db)
	ctx := context.Background()

	avg := 1000.0
	now := time.Now()
	snap := models.PriceSnapshot{
		CardID:       "card-1",
		GradedPrices: map[string]models.GradedStats{"psa10": {Average: &avg}},
		FetchedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}
	if err := db.Create(&snap).Error; err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	// The request's grade spelling differs from the stored key.
	alert, err := engine.CreateAlert(ctx, models.CreateAlertRequest{
		UserID:           "u1",
		CardID:           "card-1",
		Grade:            "10",
		GradingCompany:   "PSA",
		ThresholdPercent: 10,
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if alert.BaselinePrice == nil || *alert.BaselinePrice != 1000 {
		t.Errorf("graded baseline = %v, want 1000", alert.BaselinePrice)
	}
}

func TestToggleAndDeleteAlertOwnership(t *testing.T) {
	db := newTestDB(t)
	engine := newTestAlertEngine(t, db)
	ctx := context.Background()

	alert, err := engine.CreateAlert(ctx, models.CreateAlertRequest{
		UserID:           "owner",
		CardID:           "card-1",
		ThresholdPercent: 10,
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	if _, err := engine.ToggleAlert(ctx, alert.ID, "intruder"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("toggle by non-owner = %v, want ErrAlertNotFound", err)
	}
	if err := engine.DeleteAlert(ctx, alert.ID, "intruder"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("delete by non-owner = %v, want ErrAlertNotFound", err)
	}

	toggled, err := engine.ToggleAlert(ctx, alert.ID, "owner")
	if err != nil {
		t.Fatalf("ToggleAlert: %v", err)
	}
	if toggled.Active {
		t.Error("toggle should deactivate an active alert")
	}

	if err := engine.DeleteAlert(ctx, alert.ID, "owner"); err != nil {
		t.Fatalf("DeleteAlert: %v", err)
	}
	if err := engine.DeleteAlert(ctx, alert.ID, "owner"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("second delete = %v, want ErrAlertNotFound", err)
	}
}

func TestInactiveAlertsAreNotChecked(t *testing.T) {
	db := newTestDB(t)
	engine := newTestAlertEngine(t, db)
	ctx := context.Background()

	seedSnapshot(t, db, "card-1", 100)
	alert, err := engine.CreateAlert(ctx, models.CreateAlertRequest{
		UserID:           "u1",
		CardID:           "card-1",
		ThresholdPercent: 10,
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if _, err := engine.ToggleAlert(ctx, alert.ID, "u1"); err != nil {
		t.Fatalf("ToggleAlert: %v", err)
	}

	updateSnapshotPrice(t, db, "card-1", 200)
	result, err := engine.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("CheckAllAlerts: %v", err)
	}
	if result.Checked != 0 {
		t.Errorf("Checked = %d, want 0 for inactive alerts", result.Checked)
	}
}
