package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cardpulse/cardpulse/internal/models"
	"github.com/cardpulse/cardpulse/internal/pricing"
)

// ErrNoPriceKnown is returned when neither history nor a current snapshot
// can price a (card, grade, date) lookup.
var ErrNoPriceKnown = errors.New("no price known")

// CollectionService covers the one read contract the price subsystem owes
// the collection layer: best-known historical or current price for a
// (card, grade, date) tuple, used for cost-basis displays.
type CollectionService struct {
	db *gorm.DB
}

// NewCollectionService wires the service.
func NewCollectionService(db *gorm.DB) *CollectionService {
	return &CollectionService{db: db}
}

// CostBasis returns the last price observed at or before the given date for
// the card and grade, falling back to the current snapshot when no history
// predates the date.
func (s *CollectionService) CostBasis(ctx context.Context, cardID, grade, company string, at time.Time) (*models.CostBasisResult, error) {
	gradeKey := models.GradeRaw
	if grade != "" && grade != models.GradeRaw {
		gradeKey = pricing.NormalizeGradeKey(company + grade)
	}

	var row models.PriceHistory
	err := s.db.WithContext(ctx).
		Where("card_id = ? AND grade_key = ? AND recorded_at <= ?", cardID, gradeKey, at).
		Order("recorded_at DESC").First(&row).Error
	if err == nil {
		return &models.CostBasisResult{
			CardID:   cardID,
			GradeKey: gradeKey,
			Price:    row.Price,
			AsOf:     row.RecordedAt,
			Source:   "history",
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var snap models.PriceSnapshot
	err = s.db.WithContext(ctx).Where("card_id = ?", cardID).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoPriceKnown
	}
	if err != nil {
		return nil, err
	}

	var price *float64
	if gradeKey == models.GradeRaw {
		price = snap.NearMintPrice()
	} else if stats, ok := snap.GradedPrices[gradeKey]; ok {
		price = stats.Average
	}
	if price == nil {
		return nil, ErrNoPriceKnown
	}

	return &models.CostBasisResult{
		CardID:   cardID,
		GradeKey: gradeKey,
		Price:    *price,
		AsOf:     snap.FetchedAt,
		Source:   "current",
	}, nil
}
