package db

import (
	"dashsync/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(models.All()...); err != nil {
		return err
	}
	// Enrichment candidates are selected by this pair on every run.
	return db.Gorm.Exec(
		"CREATE INDEX IF NOT EXISTS idx_teamleader_deals_phase_check ON teamleader_deals (tenant_id, phase_checked_at)",
	).Error
}
