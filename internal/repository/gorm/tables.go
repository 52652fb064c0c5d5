package gormrepository

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dashsync/internal/models"
	"dashsync/internal/repository"
)

type table struct {
	model  func() any
	upsert func(db *gorm.DB, rows []models.Record, chunkSize int) error
}

var tables = map[string]table{
	models.EntityContacts:      tableFor[models.Contact](nil),
	models.EntityOpportunities: tableFor[models.Opportunity](nil),
	models.EntityAppointments:  tableFor[models.Appointment](nil),
	models.EntityPipelines:     tableFor[models.Pipeline](nil),
	models.EntityTLCompanies:   tableFor[models.Company](nil),
	models.EntityTLDeals:       tableFor[models.Deal](models.DealUpdateColumns),
	models.EntityTLPipelines:   tableFor[models.DealPipeline](nil),
	models.EntityTLPhases:      tableFor[models.DealPhase](nil),
	models.EntityTLLostReasons: tableFor[models.LostReason](nil),
	models.EntityTLQuotations:  tableFor[models.Quotation](nil),
	models.EntityTLInvoices:    tableFor[models.Invoice](nil),
	models.EntityTLMeetings:    tableFor[models.Meeting](nil),
}

// tableFor binds an entity to its row type. A nil column list updates every
// non-key column on conflict; deals pass an explicit list so enrichment
// columns survive a list sync.
func tableFor[T models.Record](updateColumns []string) table {
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "tenant_id"}},
		UpdateAll: true,
	}
	if updateColumns != nil {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}, {Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns(updateColumns),
		}
	}
	return table{
		model: func() any { return new(T) },
		upsert: func(db *gorm.DB, rows []models.Record, chunkSize int) error {
			items := make([]T, 0, len(rows))
			for _, r := range rows {
				v, ok := r.(T)
				if !ok {
					return fmt.Errorf("%w: %T", repository.ErrRecordType, r)
				}
				items = append(items, v)
			}
			return createInBatches(db.Clauses(onConflict), items, chunkSize)
		},
	}
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := db.CreateInBatches(items[i:end], batchSize).Error; err != nil {
			return err
		}
	}
	return nil
}
