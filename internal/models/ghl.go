package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Contact struct {
	SyncedBase
	FirstName   *string        `gorm:"type:text"`
	LastName    *string        `gorm:"type:text"`
	FullName    *string        `gorm:"type:text"`
	Email       *string        `gorm:"type:text;index"`
	Phone       *string        `gorm:"type:text"`
	CompanyName *string        `gorm:"type:text"`
	Source      *string        `gorm:"type:text"`
	Tags        datatypes.JSON `gorm:"type:jsonb"`
	AssignedTo  *string        `gorm:"type:text"`
}

func (Contact) TableName() string {
	return "ghl_contacts"
}

type Opportunity struct {
	SyncedBase
	Name          *string          `gorm:"type:text"`
	PipelineID    *string          `gorm:"type:text;index"`
	StageID       *string          `gorm:"type:text"`
	Status        *string          `gorm:"type:text"`
	MonetaryValue *decimal.Decimal `gorm:"type:numeric(20,2)"`
	ContactID     *string          `gorm:"type:text"`
	AssignedTo    *string          `gorm:"type:text"`
}

func (Opportunity) TableName() string {
	return "ghl_opportunities"
}

type Appointment struct {
	SyncedBase
	CalendarID *string    `gorm:"type:text;index"`
	ContactID  *string    `gorm:"type:text"`
	Title      *string    `gorm:"type:text"`
	Status     *string    `gorm:"type:text"`
	StartTime  *time.Time `gorm:"type:timestamptz;index"`
	EndTime    *time.Time `gorm:"type:timestamptz"`
}

func (Appointment) TableName() string {
	return "ghl_appointments"
}

type Pipeline struct {
	SyncedBase
	Name   *string        `gorm:"type:text"`
	Stages datatypes.JSON `gorm:"type:jsonb"`
}

func (Pipeline) TableName() string {
	return "ghl_pipelines"
}
