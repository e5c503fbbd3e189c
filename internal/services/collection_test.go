package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cardpulse/cardpulse/internal/models"
)

func TestCostBasisPrefersHistory(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db)
	ctx := context.Background()
	now := time.Now()

	rows := []models.PriceHistory{
		{CardID: "card-1", GradeKey: models.GradeRaw, Price: 80, RecordedAt: now.AddDate(0, -2, 0)},
		{CardID: "card-1", GradeKey: models.GradeRaw, Price: 90, RecordedAt: now.AddDate(0, -1, 0)},
		{CardID: "card-1", GradeKey: models.GradeRaw, Price: 120, RecordedAt: now},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed history: %v", err)
	}

	// A purchase six weeks ago should use the two-month-old observation,
	// the last one at or before that date.
	result, err := svc.CostBasis(ctx, "card-1", "", "", now.AddDate(0, 0, -42))
	if err != nil {
		t.Fatalf("CostBasis: %v", err)
	}
	if result.Price != 80 {
		t.Errorf("Price = %v, want 80", result.Price)
	}
	if result.Source != "history" {
		t.Errorf("Source = %s, want history", result.Source)
	}
}

func TestCostBasisFallsBackToCurrentSnapshot(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db)
	ctx := context.Background()

	seedSnapshot(t, db, "card-1", 55)

	result, err := svc.CostBasis(ctx, "card-1", "", "", time.Now())
	if err != nil {
		t.Fatalf("CostBasis: %v", err)
	}
	if result.Price != 55 {
		t.Errorf("Price = %v, want 55 from snapshot", result.Price)
	}
	if result.Source != "current" {
		t.Errorf("Source = %s, want current", result.Source)
	}
}

func TestCostBasisGradedLookupNormalizesKey(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db)
	ctx := context.Background()
	now := time.Now()

	row := models.PriceHistory{CardID: "card-1", GradeKey: "psa10", Price: 900, RecordedAt: now.AddDate(0, 0, -1)}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed history: %v", err)
	}

	result, err := svc.CostBasis(ctx, "card-1", "10", "PSA", now)
	if err != nil {
		t.Fatalf("CostBasis: %v", err)
	}
	if result.GradeKey != "psa10" {
		t.Errorf("GradeKey = %s, want psa10", result.GradeKey)
	}
	if result.Price != 900 {
		t.Errorf("Price = %v, want 900", result.Price)
	}
}

func TestCostBasisUnknownCard(t *testing.T) {
	db := newTestDB(t)
	svc := NewCollectionService(db)

	_, err := svc.CostBasis(context.Background(), "nope", "", "", time.Now())
	if !errors.Is(err, ErrNoPriceKnown) {
		t.Errorf("error = %v, want ErrNoPriceKnown", err)
	}
}
