package database

import (
	"log"

	"gorm.io/gorm"
)

// cleanupDuplicateSnapshots removes duplicate price_snapshots rows before the
// unique (card_id, variant_id) index is added. Runs BEFORE AutoMigrate to
// prevent constraint violations on upgraded databases.
func cleanupDuplicateSnapshots(db *gorm.DB) error {
	if !db.Migrator().HasTable("price_snapshots") {
		return nil
	}

	// Normalize NULL variant ids to the empty string first so the duplicate
	// grouping sees them as one bucket.
	if result := db.Exec(`UPDATE price_snapshots SET variant_id = '' WHERE variant_id IS NULL`); result.Error != nil {
		log.Printf("Warning: failed to normalize variant ids: %v", result.Error)
	}

	// Keep the most recently written row per (card_id, variant_id).
	result := db.Exec(`
		DELETE FROM price_snapshots
		WHERE id NOT IN (
			SELECT MAX(id)
			FROM price_snapshots
			GROUP BY card_id, variant_id
		)
	`)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("Cleaned up %d duplicate price_snapshots entries", result.RowsAffected)
	}
	return nil
}

// RunMigrations runs custom data migrations after schema changes. Every step
// is safe to run repeatedly.
func RunMigrations(db *gorm.DB) error {
	if err := migrateGradeKeys(db); err != nil {
		return err
	}
	if err := migrateAlertDefaults(db); err != nil {
		return err
	}
	return nil
}

// migrateGradeKeys backfills defaults on history rows from before grade
// tracking existed.
func migrateGradeKeys(db *gorm.DB) error {
	if db.Migrator().HasColumn("price_histories", "grade_key") {
		db.Exec(`UPDATE price_histories SET grade_key = 'raw' WHERE grade_key IS NULL OR grade_key = ''`)
	}
	return nil
}

// migrateAlertDefaults normalizes legacy alert rows missing direction or
// delivery method.
func migrateAlertDefaults(db *gorm.DB) error {
	if !db.Migrator().HasTable("price_alerts") {
		return nil
	}
	db.Exec(`UPDATE price_alerts SET direction = 'both' WHERE direction IS NULL OR direction = ''`)
	db.Exec(`UPDATE price_alerts SET delivery_method = 'email' WHERE delivery_method IS NULL OR delivery_method = ''`)
	db.Exec(`UPDATE price_alerts SET grade = 'raw' WHERE grade IS NULL OR grade = ''`)
	return nil
}
