package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProviderGHL        = "ghl"
	ProviderTeamleader = "teamleader"
)

// OAuthIntegration holds one tenant's provider tokens. Token columns are
// sealed by the repository when an encryption key is configured.
type OAuthIntegration struct {
	TenantID     string    `gorm:"primaryKey;type:text"`
	Provider     string    `gorm:"primaryKey;type:text"`
	AccessToken  string    `gorm:"type:text;not null"`
	RefreshToken string    `gorm:"type:text;not null"`
	TokenType    string    `gorm:"type:text"`
	Scope        string    `gorm:"type:text"`
	ExpiresAt    time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt    time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (OAuthIntegration) TableName() string {
	return "oauth_integrations"
}

type Tenant struct {
	ID         string    `gorm:"primaryKey;type:text"`
	Provider   string    `gorm:"type:text;not null;index"`
	Name       string    `gorm:"type:text"`
	BaseURL    string    `gorm:"type:text"`
	LocationID string    `gorm:"type:text"`
	APIKey     string    `gorm:"type:text"`
	Enabled    bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Tenant) TableName() string {
	return "tenants"
}

// SyncRun is one entity outcome of an orchestrator pass.
type SyncRun struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RunID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	TenantID   string     `gorm:"type:text;not null;index:idx_sync_runs_tenant_entity"`
	Entity     string     `gorm:"type:text;not null;index:idx_sync_runs_tenant_entity"`
	FullSync   bool       `gorm:"not null;default:false"`
	Status     string     `gorm:"type:varchar(16);not null"`
	Stage      string     `gorm:"type:varchar(32)"`
	Pages      int        `gorm:"not null;default:0"`
	Records    int        `gorm:"not null;default:0"`
	Pruned     int64      `gorm:"not null;default:0"`
	Error      *string    `gorm:"type:text"`
	StartedAt  time.Time  `gorm:"type:timestamptz;not null;index"`
	FinishedAt *time.Time `gorm:"type:timestamptz"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}
