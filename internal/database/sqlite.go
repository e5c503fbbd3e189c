package database

import (
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cardpulse/cardpulse/internal/models"
)

// Initialize opens the SQLite database and migrates the schema. The handle
// is returned to the caller and injected into services; there is no package
// global.
func Initialize(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	log.Println("Database connected successfully")

	// Duplicate snapshots must be cleaned up before AutoMigrate adds the
	// unique index, or the migration fails.
	if err := cleanupDuplicateSnapshots(db); err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&models.Card{},
		&models.CardSet{},
		&models.PriceSnapshot{},
		&models.FetchState{},
		&models.PriceHistory{},
		&models.SearchEvent{},
		&models.SocialMention{},
		&models.TrendingScore{},
		&models.PriceAlert{},
		&models.Notification{},
		&models.CollectionItem{},
	)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		return nil, err
	}

	log.Println("Database migration completed")
	return db, nil
}
