package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Company struct {
	SyncedBase
	Name      *string `gorm:"type:text"`
	VATNumber *string `gorm:"type:text"`
	Email     *string `gorm:"type:text"`
	Phone     *string `gorm:"type:text"`
	Website   *string `gorm:"type:text"`
	Status    *string `gorm:"type:text"`
}

func (Company) TableName() string {
	return "teamleader_companies"
}

type Deal struct {
	SyncedBase
	Title          *string          `gorm:"type:text"`
	Reference      *string          `gorm:"type:text"`
	Status         *string          `gorm:"type:text;index"`
	PipelineID     *string          `gorm:"type:text"`
	PhaseID        *string          `gorm:"type:text;index"`
	CustomerType   *string          `gorm:"type:text"`
	CustomerID     *string          `gorm:"type:text"`
	EstimatedValue *decimal.Decimal `gorm:"type:numeric(20,2)"`
	Currency       *string          `gorm:"type:varchar(8)"`
	LostReasonID   *string          `gorm:"type:text"`
	ClosedAt       *time.Time       `gorm:"type:timestamptz"`

	// Derived by phase-history enrichment, never by the list sync.
	HadAppointment *bool      `gorm:"default:null"`
	PhaseCheckedAt *time.Time `gorm:"type:timestamptz"`
}

func (Deal) TableName() string {
	return "teamleader_deals"
}

func (d Deal) PreserveFrom(prev Record) Record {
	old, ok := prev.(Deal)
	if !ok {
		return d
	}
	d.HadAppointment = old.HadAppointment
	d.PhaseCheckedAt = old.PhaseCheckedAt
	return d
}

// DealUpdateColumns is what a list sync may overwrite on conflict.
var DealUpdateColumns = []string{
	"source_created_at",
	"source_updated_at",
	"raw_data",
	"synced_at",
	"title",
	"reference",
	"status",
	"pipeline_id",
	"phase_id",
	"customer_type",
	"customer_id",
	"estimated_value",
	"currency",
	"lost_reason_id",
	"closed_at",
}

type DealPipeline struct {
	SyncedBase
	Name   *string `gorm:"type:text"`
	Status *string `gorm:"type:text"`
}

func (DealPipeline) TableName() string {
	return "teamleader_pipelines"
}

type DealPhase struct {
	SyncedBase
	Name       *string `gorm:"type:text"`
	PipelineID *string `gorm:"type:text;index"`
	SortOrder  *int
}

func (DealPhase) TableName() string {
	return "teamleader_phases"
}

type LostReason struct {
	SyncedBase
	Name *string `gorm:"type:text"`
}

func (LostReason) TableName() string {
	return "teamleader_lost_reasons"
}

type Quotation struct {
	SyncedBase
	DealID   *string          `gorm:"type:text;index"`
	Status   *string          `gorm:"type:text"`
	Total    *decimal.Decimal `gorm:"type:numeric(20,2)"`
	Currency *string          `gorm:"type:varchar(8)"`
}

func (Quotation) TableName() string {
	return "teamleader_quotations"
}

type Invoice struct {
	SyncedBase
	InvoiceNumber *string          `gorm:"type:text"`
	Status        *string          `gorm:"type:text"`
	CustomerID    *string          `gorm:"type:text"`
	Total         *decimal.Decimal `gorm:"type:numeric(20,2)"`
	Currency      *string          `gorm:"type:varchar(8)"`
	InvoiceDate   *time.Time       `gorm:"type:timestamptz"`
	DueDate       *time.Time       `gorm:"type:timestamptz"`
	PaidAt        *time.Time       `gorm:"type:timestamptz"`
}

func (Invoice) TableName() string {
	return "teamleader_invoices"
}

type Meeting struct {
	SyncedBase
	Title      *string    `gorm:"type:text"`
	StartsAt   *time.Time `gorm:"type:timestamptz"`
	EndsAt     *time.Time `gorm:"type:timestamptz"`
	DealID     *string    `gorm:"type:text"`
	CustomerID *string    `gorm:"type:text"`
}

func (Meeting) TableName() string {
	return "teamleader_meetings"
}
