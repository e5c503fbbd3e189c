package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cardpulse/cardpulse/internal/cache"
	"github.com/cardpulse/cardpulse/internal/models"
	"github.com/cardpulse/cardpulse/internal/pricing"
)

var testDBSeq int64

// newTestDB opens a fresh in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.Card{},
		&models.CardSet{},
		&models.PriceSnapshot{},
		&models.PriceHistory{},
		&models.FetchState{},
		&models.SearchEvent{},
		&models.SocialMention{},
		&models.TrendingScore{},
		&models.PriceAlert{},
		&models.Notification{},
		&models.CollectionItem{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestCache(t *testing.T) *cache.TieredCache {
	t.Helper()
	c, err := cache.NewTieredCache(64, nil)
	if err != nil {
		t.Fatalf("NewTieredCache: %v", err)
	}
	return c
}

// fakeSource is a scriptable pricing.Source.
type fakeSource struct {
	calls    int32
	getCard  func(externalID string) (*pricing.CardPricePayload, error)
	cards    map[string][]pricing.CardPricePayload
	sets     []pricing.SetPayload
	setsErr  error
	cardsErr error
}

func (f *fakeSource) GetCard(ctx context.Context, externalID string, opts pricing.CardOptions) (*pricing.CardPricePayload, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.getCard != nil {
		return f.getCard(externalID)
	}
	return nil, pricing.ErrNotFound
}

func (f *fakeSource) GetCardsBySet(ctx context.Context, externalSetID string) ([]pricing.CardPricePayload, error) {
	if f.cardsErr != nil {
		return nil, f.cardsErr
	}
	return f.cards[externalSetID], nil
}

func (f *fakeSource) GetSets(ctx context.Context) ([]pricing.SetPayload, error) {
	return f.sets, f.setsErr
}

func pricedPayload(id string, nearMint float64) *pricing.CardPricePayload {
	return &pricing.CardPricePayload{
		ID:  id,
		Raw: pricing.RawPricePayload{NearMint: &nearMint},
	}
}

func newTestEngine(t *testing.T, db *gorm.DB, source pricing.Source) *PriceSyncEngine {
	t.Helper()
	tiered := newTestCache(t)
	return NewPriceSyncEngine(db, source, tiered, cache.NewCoalescer(tiered))
}

func TestGetWithPricesFetchesAndCaches(t *testing.T) {
	db := newTestDB(t)
	source := &fakeSource{getCard: func(id string) (*pricing.CardPricePayload, error) {
		return pricedPayload(id, 42.5), nil
	}}
	engine := newTestEngine(t, db, source)
	ctx := context.Background()

	result, err := engine.GetWithPrices(ctx, "card-1", PriceOptions{})
	if err != nil {
		t.Fatalf("GetWithPrices: %v", err)
	}
	if result.FromCache {
		t.Error("first read should not come from cache")
	}
	if nm := result.Snapshot.NearMintPrice(); nm == nil || *nm != 42.5 {
		t.Errorf("NearMintPrice = %v, want 42.5", nm)
	}

	// Second read is served from the cache without an upstream call.
	result, err = engine.GetWithPrices(ctx, "card-1", PriceOptions{})
	if err != nil {
		t.Fatalf("second GetWithPrices: %v", err)
	}
	if !result.FromCache {
		t.Error("second read should come from cache")
	}
	if got := atomic.LoadInt32(&source.calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}

	// The snapshot was also persisted.
	var count int64
	db.Model(&models.PriceSnapshot{}).Where("card_id = ?", "card-1").Count(&count)
	if count != 1 {
		t.Errorf("persisted snapshots = %d, want 1", count)
	}
}

func TestGetWithPricesForceRefreshBypassesCache(t *testing.T) {
	db := newTestDB(t)
	source := &fakeSource{getCard: func(id string) (*pricing.CardPricePayload, error) {
		return pricedPayload(id, 10), nil
	}}
	engine := newTestEngine(t, db, source)
	ctx := context.Background()

	if _, err := engine.GetWithPrices(ctx, "card-1", PriceOptions{}); err != nil {
		t.Fatalf("GetWithPrices: %v", err)
	}
	if _, err := engine.GetWithPrices(ctx, "card-1", PriceOptions{ForceRefresh: true}); err != nil {
		t.Fatalf("force refresh: %v", err)
	}
	if got := atomic.LoadInt32(&source.calls); got != 2 {
		t.Errorf("upstream calls = %d, want 2 (refresh must bypass cache)", got)
	}
}

func TestGetWithPricesStaleFallback(t *testing.T) {
	db := newTestDB(t)

	// A snapshot persisted 10 hours ago, now expired.
	fetched := time.Now().Add(-10 * time.Hour)
	price := 25.0
	snap := models.PriceSnapshot{
		CardID:    "card-1",
		RawPrices: map[models.Condition]*float64{models.ConditionNearMint: &price},
		FetchedAt: fetched,
		ExpiresAt: fetched.Add(4 * time.Hour),
	}
	if err := db.Create(&snap).Error; err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	source := &fakeSource{getCard: func(id string) (*pricing.CardPricePayload, error) {
		return nil, pricing.ErrRateLimited
	}}
	engine := newTestEngine(t, db, source)

	result, err := engine.GetWithPrices(context.Background(), "card-1", PriceOptions{})
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if !result.FromCache {
		t.Error("stale fallback should report FromCache")
	}
	if result.StaleHours == nil {
		t.Fatal("stale fallback should report StaleHours")
	}
	if *result.StaleHours < 9.9 || *result.StaleHours > 10.1 {
		t.Errorf("StaleHours = %v, want about 10", *result.StaleHours)
	}
	if nm := result.Snapshot.NearMintPrice(); nm == nil || *nm != 25 {
		t.Errorf("stale NearMintPrice = %v, want 25", nm)
	}
}

func TestGetWithPricesNoSnapshotSurfacesError(t *testing.T) {
	db := newTestDB(t)
	source := &fakeSource{getCard: func(id string) (*pricing.CardPricePayload, error) {
		return nil, pricing.ErrRateLimited
	}}
	engine := newTestEngine(t, db, source)

	_, err := engine.GetWithPrices(context.Background(), "never-seen", PriceOptions{})
	if !errors.Is(err, pricing.ErrRateLimited) {
		t.Errorf("error = %v, want wrapped ErrRateLimited", err)
	}
}

func TestGetWithPricesShapesGradedPrices(t *testing.T) {
	db := newTestDB(t)
	avg := 500.0
	source := &fakeSource{getCard: func(id string) (*pricing.CardPricePayload, error) {
		nm := 50.0
		return &pricing.CardPricePayload{
			ID:     id,
			Raw:    pricing.RawPricePayload{NearMint: &nm},
			Grades: []pricing.GradePayload{{Grade: "PSA 10", Average: &avg}},
		}, nil
	}}
	engine := newTestEngine(t, db, source)
	ctx := context.Background()

	result, err := engine.GetWithPrices(ctx, "card-1", PriceOptions{})
	if err != nil {
		t.Fatalf("GetWithPrices: %v", err)
	}
	if len(result.Snapshot.GradedPrices) != 0 {
		t.Error("graded prices should be stripped unless requested")
	}

	result, err = engine.GetWithPrices(ctx, "card-1", PriceOptions{IncludeGraded: true})
	if err != nil {
		t.Fatalf("GetWithPrices graded: %v", err)
	}
	if _, ok := result.Snapshot.GradedPrices["psa10"]; !ok {
		t.Error("expected psa10 graded stats when requested")
	}
}

func TestSyncStaleCardsPartialFailure(t *testing.T) {
	db := newTestDB(t)

	for i := 1; i <= 10; i++ {
		card := models.Card{ID: fmt.Sprintf("card-%d", i), SetID: "set-1", Name: fmt.Sprintf("Card %d", i), Number: fmt.Sprintf("%d", i)}
		if err := db.Create(&card).Error; err != nil {
			t.Fatalf("seed card: %v", err)
		}
	}

	source := &fakeSource{getCard: func(id string) (*pricing.CardPricePayload, error) {
		if id == "card-5" {
			return nil, pricing.ErrRateLimited
		}
		return pricedPayload(id, 5), nil
	}}
	engine := newTestEngine(t, db, source)

	result, err := engine.SyncStaleCards(context.Background(), 10)
	if err != nil {
		t.Fatalf("SyncStaleCards: %v", err)
	}
	if result.Updated != 9 {
		t.Errorf("Updated = %d, want 9", result.Updated)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "card-5") {
		t.Errorf("Errors = %v, want one entry for card-5", result.Errors)
	}
}

func TestSyncStaleCardsAbortsOnAuthFailure(t *testing.T) {
	db := newTestDB(t)

	for i := 1; i <= 5; i++ {
		card := models.Card{ID: fmt.Sprintf("card-%d", i), SetID: "set-1", Name: "x", Number: fmt.Sprintf("%d", i)}
		if err := db.Create(&card).Error; err != nil {
			t.Fatalf("seed card: %v", err)
		}
	}

	source := &fakeSource{getCard: func(id string) (*pricing.CardPricePayload, error) {
		return nil, pricing.ErrUnauthorized
	}}
	engine := newTestEngine(t, db, source)

	result, err := engine.SyncStaleCards(context.Background(), 5)
	if err != nil {
		t.Fatalf("SyncStaleCards: %v", err)
	}
	if got := atomic.LoadInt32(&source.calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (auth failure aborts the batch)", got)
	}
	if result.Updated != 0 {
		t.Errorf("Updated = %d, want 0", result.Updated)
	}
}

func TestSyncStaleCardsSkipsFreshCards(t *testing.T) {
	db := newTestDB(t)

	card := models.Card{ID: "card-1", SetID: "set-1", Name: "x", Number: "1"}
	if err := db.Create(&card).Error; err != nil {
		t.Fatalf("seed card: %v", err)
	}
	now := time.Now()
	state := models.FetchState{CardID: "card-1", LastFetchAt: &now}
	if err := db.Create(&state).Error; err != nil {
		t.Fatalf("seed fetch state: %v", err)
	}

	source := &fakeSource{}
	engine := newTestEngine(t, db, source)

	result, err := engine.SyncStaleCards(context.Background(), 10)
	if err != nil {
		t.Fatalf("SyncStaleCards: %v", err)
	}
	if result.Updated != 0 || result.Failed != 0 {
		t.Errorf("fresh card was touched: %+v", result)
	}
	if got := atomic.LoadInt32(&source.calls); got != 0 {
		t.Errorf("upstream calls = %d, want 0", got)
	}
}

func TestSyncErrorListIsCapped(t *testing.T) {
	db := newTestDB(t)

	for i := 1; i <= 30; i++ {
		card := models.Card{ID: fmt.Sprintf("card-%02d", i), SetID: "set-1", Name: "x", Number: fmt.Sprintf("%d", i)}
		if err := db.Create(&card).Error; err != nil {
			t.Fatalf("seed card: %v", err)
		}
	}

	source := &fakeSource{getCard: func(id string) (*pricing.CardPricePayload, error) {
		return nil, pricing.ErrRateLimited
	}}
	engine := newTestEngine(t, db, source)

	result, err := engine.SyncStaleCards(context.Background(), 30)
	if err != nil {
		t.Fatalf("SyncStaleCards: %v", err)
	}
	if result.Failed != 30 {
		t.Errorf("Failed = %d, want 30", result.Failed)
	}
	if len(result.Errors) > maxSyncErrors {
		t.Errorf("error list has %d entries, cap is %d", len(result.Errors), maxSyncErrors)
	}
}

func TestImportSetIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	source := &fakeSource{cards: map[string][]pricing.CardPricePayload{
		"sv1": {
			{ID: "sv1-001", Name: "Sprigatito", Number: "001"},
			{ID: "sv1-002", Name: "Floragato", Number: "002"},
		},
	}}
	engine := newTestEngine(t, db, source)
	ctx := context.Background()

	first, err := engine.ImportSet(ctx, "sv1")
	if err != nil {
		t.Fatalf("first ImportSet: %v", err)
	}
	if first.CardsUpserted != 2 {
		t.Errorf("first import upserted %d, want 2", first.CardsUpserted)
	}

	var firstImportedAt *time.Time
	var set models.CardSet
	if err := db.Where("external_id = ?", "sv1").First(&set).Error; err != nil {
		t.Fatalf("load set: %v", err)
	}
	firstImportedAt = set.ImportedAt
	if firstImportedAt == nil {
		t.Fatal("ImportedAt should be set after import")
	}

	if _, err := engine.ImportSet(ctx, "sv1"); err != nil {
		t.Fatalf("second ImportSet: %v", err)
	}

	var cardCount, setCount int64
	db.Model(&models.Card{}).Count(&cardCount)
	db.Model(&models.CardSet{}).Count(&setCount)
	if cardCount != 2 {
		t.Errorf("cards after re-import = %d, want 2", cardCount)
	}
	if setCount != 1 {
		t.Errorf("sets after re-import = %d, want 1", setCount)
	}

	if err := db.Where("external_id = ?", "sv1").First(&set).Error; err != nil {
		t.Fatalf("reload set: %v", err)
	}
	if set.ImportedAt == nil || set.ImportedAt.Before(*firstImportedAt) {
		t.Error("ImportedAt must never move backwards")
	}
}

func TestImportAllSetsOrdersVintageFirst(t *testing.T) {
	db := newTestDB(t)

	var order []string
	source := &fakeSource{
		sets: []pricing.SetPayload{
			{ID: "modern", Name: "Some Modern Set"},
			{ID: "base", Name: "Base Set"},
			{ID: "chase", Name: "Evolving Skies"},
		},
	}
	source.cards = map[string][]pricing.CardPricePayload{}
	engine := newTestEngine(t, db, source)

	// Capture import order through the set upserts.
	imported, errs, err := engine.ImportAllSets(context.Background())
	if err != nil {
		t.Fatalf("ImportAllSets: %v", err)
	}
	if imported != 3 {
		t.Fatalf("imported = %d (errs %v), want 3", imported, errs)
	}

	var sets []models.CardSet
	if err := db.Order("imported_at ASC, id ASC").Find(&sets).Error; err != nil {
		t.Fatalf("load sets: %v", err)
	}
	for _, s := range sets {
		order = append(order, s.ExternalID)
	}
	if len(order) != 3 {
		t.Fatalf("got %d sets, want 3", len(order))
	}
	// All three imported; priority ordering itself is covered by the
	// ImportPriority unit tests. Here we only require the vintage set to
	// have an imported timestamp no later than the modern one.
	var base, modern models.CardSet
	db.Where("external_id = ?", "base").First(&base)
	db.Where("external_id = ?", "modern").First(&modern)
	if base.ImportedAt == nil || modern.ImportedAt == nil {
		t.Fatal("ImportedAt missing")
	}
	if base.ImportedAt.After(*modern.ImportedAt) {
		t.Error("vintage set should import before modern set")
	}
}
