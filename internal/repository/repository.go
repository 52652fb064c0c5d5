package repository

import (
	"context"
	"errors"
	"time"

	"dashsync/internal/models"
)

var (
	ErrUnknownEntity = errors.New("repository: unknown entity")
	ErrRecordType    = errors.New("repository: record type does not match entity")
	ErrNoStartTime   = errors.New("repository: entity has no start time")
)

type SyncStateRepository interface {
	// GetSyncState returns nil, nil when no row exists.
	GetSyncState(ctx context.Context, entity, tenantID string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
	// RecordSyncError stamps the attempt without touching the cursor.
	RecordSyncError(ctx context.Context, entity, tenantID string, syncErr error, at time.Time) error
	ListSyncStates(ctx context.Context, tenantID string) ([]models.SyncState, error)
}

type RecordRepository interface {
	// UpsertRecords writes rows keyed by (id, tenant_id) in chunks.
	UpsertRecords(ctx context.Context, entity string, rows []models.Record, chunkSize int) error
	// PruneRecords deletes the tenant's rows not seen since p.Before.
	PruneRecords(ctx context.Context, p PruneParams) (int64, error)
	CountRecords(ctx context.Context, entity, tenantID string) (int64, error)
}

type DealRepository interface {
	// ListDealsForPhaseCheck returns unchecked deals first, then deals
	// updated since their last check.
	ListDealsForPhaseCheck(ctx context.Context, tenantID string, limit int) ([]models.Deal, error)
	MarkDealPhaseChecked(ctx context.Context, tenantID, dealID string, hadAppointment bool, at time.Time) error
	ListDealPhases(ctx context.Context, tenantID string) ([]models.DealPhase, error)
}

type IntegrationRepository interface {
	GetIntegration(ctx context.Context, tenantID, provider string) (*models.OAuthIntegration, error)
	SaveIntegration(ctx context.Context, item *models.OAuthIntegration) error
}

type TenantRepository interface {
	ListTenants(ctx context.Context, params ListTenantsParams) ([]models.Tenant, error)
	UpsertTenant(ctx context.Context, item *models.Tenant) error
}

type RunRepository interface {
	InsertSyncRun(ctx context.Context, item *models.SyncRun) error
	ListSyncRuns(ctx context.Context, params ListSyncRunsParams) ([]models.SyncRun, error)
}

type Repository interface {
	SyncStateRepository
	RecordRepository
	DealRepository
	IntegrationRepository
	TenantRepository
	RunRepository
}

type ListTenantsParams struct {
	IDs             []string
	Provider        *string
	IncludeDisabled bool
}

type ListSyncRunsParams struct {
	TenantID *string
	Entity   *string
	RunID    *string
	Status   *string
	Limit    int
	Offset   int
}

type PruneParams struct {
	Entity   string
	TenantID string
	Before   time.Time
	// StartFrom and StartTo, when set, limit deletion to rows whose start
	// time lies in [StartFrom, StartTo). Rows without a start time are kept.
	StartFrom *time.Time
	StartTo   *time.Time
}

// Scoped reports whether p carries a start-time range.
func (p PruneParams) Scoped() bool {
	return p.StartFrom != nil || p.StartTo != nil
}
