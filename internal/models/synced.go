package models

import (
	"time"

	"gorm.io/datatypes"
)

// Entity names double as sync_state keys and API selectors.
const (
	EntityContacts      = "contacts"
	EntityOpportunities = "opportunities"
	EntityAppointments  = "appointments"
	EntityPipelines     = "pipelines"

	EntityTLCompanies   = "teamleader_companies"
	EntityTLDeals       = "teamleader_deals"
	EntityTLPipelines   = "teamleader_pipelines"
	EntityTLPhases      = "teamleader_phases"
	EntityTLLostReasons = "teamleader_lost_reasons"
	EntityTLQuotations  = "teamleader_quotations"
	EntityTLInvoices    = "teamleader_invoices"
	EntityTLMeetings    = "teamleader_meetings"
)

var knownEntities = map[string]struct{}{
	EntityContacts: {}, EntityOpportunities: {}, EntityAppointments: {}, EntityPipelines: {},
	EntityTLCompanies: {}, EntityTLDeals: {}, EntityTLPipelines: {}, EntityTLPhases: {},
	EntityTLLostReasons: {}, EntityTLQuotations: {}, EntityTLInvoices: {}, EntityTLMeetings: {},
}

func KnownEntity(name string) bool {
	_, ok := knownEntities[name]
	return ok
}

// SyncedBase carries the columns every synced entity table shares.
// (id, tenant_id) is the upsert key; synced_at drives prune.
type SyncedBase struct {
	ID              string         `gorm:"primaryKey;type:text;comment:external id"`
	TenantID        string         `gorm:"primaryKey;type:text;index;comment:owning tenant"`
	SourceCreatedAt *time.Time     `gorm:"type:timestamptz;comment:source created time"`
	SourceUpdatedAt *time.Time     `gorm:"type:timestamptz;index;comment:source updated time"`
	RawData         datatypes.JSON `gorm:"type:jsonb;not null;comment:original payload"`
	SyncedAt        time.Time      `gorm:"type:timestamptz;not null;index;comment:last sync pass that saw the row"`
}

// Record is implemented by every entity row through its embedded SyncedBase.
type Record interface {
	Base() SyncedBase
}

func (b SyncedBase) Base() SyncedBase {
	return b
}

// Preserver lets a row keep locally derived columns when an upsert replaces it.
type Preserver interface {
	Record
	PreserveFrom(prev Record) Record
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&SyncState{},
		&OAuthIntegration{},
		&Tenant{},
		&SyncRun{},
		&Contact{},
		&Opportunity{},
		&Appointment{},
		&Pipeline{},
		&Company{},
		&Deal{},
		&DealPipeline{},
		&DealPhase{},
		&LostReason{},
		&Quotation{},
		&Invoice{},
		&Meeting{},
	}
}
