package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dashsync/internal/models"
	"dashsync/internal/repository"
	"dashsync/internal/secure"
)

const (
	purposeAccessToken  = "oauth_integrations.access_token"
	purposeRefreshToken = "oauth_integrations.refresh_token"
	purposeAPIKey       = "tenants.api_key"
)

type Store struct {
	db  *gorm.DB
	box *secure.Box
}

// New wraps db. Credentials are sealed with box when it holds a key.
func New(db *gorm.DB, box *secure.Box) *Store {
	return &Store{db: db, box: box}
}

// --- sync state -------------------------------------------------------------

func (s *Store) GetSyncState(ctx context.Context, entity, tenantID string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var state models.SyncState
	err := s.db.WithContext(ctx).First(&state, "entity = ? AND tenant_id = ?", entity, tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity"}, {Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cursor",
			"last_synced_at",
			"last_attempt_at",
			"last_error",
			"stats_json",
			"updated_at",
		}),
	}).Create(state).Error
}

func (s *Store) RecordSyncError(ctx context.Context, entity, tenantID string, syncErr error, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	var msg *string
	if syncErr != nil {
		m := syncErr.Error()
		msg = &m
	}
	state := &models.SyncState{
		Entity:        entity,
		TenantID:      tenantID,
		LastAttemptAt: &at,
		LastError:     msg,
		UpdatedAt:     at,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity"}, {Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_attempt_at", "last_error", "updated_at"}),
	}).Create(state).Error
}

func (s *Store) ListSyncStates(ctx context.Context, tenantID string) ([]models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SyncState{})
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	var states []models.SyncState
	if err := query.Order("tenant_id asc").Order("entity asc").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// --- synced records ---------------------------------------------------------

func (s *Store) UpsertRecords(ctx context.Context, entity string, rows []models.Record, chunkSize int) error {
	if s == nil || s.db == nil || len(rows) == 0 {
		return nil
	}
	t, ok := tables[entity]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrUnknownEntity, entity)
	}
	return t.upsert(s.db.WithContext(ctx), rows, chunkSize)
}

func (s *Store) PruneRecords(ctx context.Context, p repository.PruneParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	t, ok := tables[p.Entity]
	if !ok {
		return 0, fmt.Errorf("%w: %s", repository.ErrUnknownEntity, p.Entity)
	}
	q := s.db.WithContext(ctx).Where("tenant_id = ? AND synced_at < ?", p.TenantID, p.Before)
	if p.Scoped() {
		if p.Entity != models.EntityAppointments {
			return 0, fmt.Errorf("%w: %s", repository.ErrNoStartTime, p.Entity)
		}
		q = q.Where("start_time IS NOT NULL")
		if p.StartFrom != nil {
			q = q.Where("start_time >= ?", *p.StartFrom)
		}
		if p.StartTo != nil {
			q = q.Where("start_time < ?", *p.StartTo)
		}
	}
	res := q.Delete(t.model())
	return res.RowsAffected, res.Error
}

func (s *Store) CountRecords(ctx context.Context, entity, tenantID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	t, ok := tables[entity]
	if !ok {
		return 0, fmt.Errorf("%w: %s", repository.ErrUnknownEntity, entity)
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(t.model()).Where("tenant_id = ?", tenantID).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// --- deal enrichment --------------------------------------------------------

func (s *Store) ListDealsForPhaseCheck(ctx context.Context, tenantID string, limit int) ([]models.Deal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 50)
	var items []models.Deal
	err := s.db.WithContext(ctx).
		Model(&models.Deal{}).
		Where("tenant_id = ?", tenantID).
		Where("phase_checked_at IS NULL OR (source_updated_at IS NOT NULL AND phase_checked_at < source_updated_at)").
		Order("phase_checked_at IS NOT NULL").
		Order("source_updated_at DESC NULLS LAST").
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkDealPhaseChecked(ctx context.Context, tenantID, dealID string, hadAppointment bool, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Deal{}).
		Where("tenant_id = ? AND id = ?", tenantID, dealID).
		Updates(map[string]any{
			"had_appointment":  hadAppointment,
			"phase_checked_at": at,
		}).Error
}

func (s *Store) ListDealPhases(ctx context.Context, tenantID string) ([]models.DealPhase, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.DealPhase
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("pipeline_id asc").
		Order("sort_order asc NULLS LAST").
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- oauth integrations -----------------------------------------------------

func (s *Store) GetIntegration(ctx context.Context, tenantID, provider string) (*models.OAuthIntegration, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.OAuthIntegration
	err := s.db.WithContext(ctx).First(&item, "tenant_id = ? AND provider = ?", tenantID, provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if item.AccessToken, err = s.box.Open(purposeAccessToken, item.AccessToken); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if item.RefreshToken, err = s.box.Open(purposeRefreshToken, item.RefreshToken); err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	return &item, nil
}

func (s *Store) SaveIntegration(ctx context.Context, item *models.OAuthIntegration) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	row := *item
	var err error
	if row.AccessToken, err = s.box.Seal(purposeAccessToken, item.AccessToken); err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	if row.RefreshToken, err = s.box.Seal(purposeRefreshToken, item.RefreshToken); err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token",
			"refresh_token",
			"token_type",
			"scope",
			"expires_at",
			"updated_at",
		}),
	}).Create(&row).Error
}

// --- tenants ----------------------------------------------------------------

func (s *Store) ListTenants(ctx context.Context, params repository.ListTenantsParams) ([]models.Tenant, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Tenant{})
	if ids := cleanStrings(params.IDs); len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	if params.Provider != nil && strings.TrimSpace(*params.Provider) != "" {
		query = query.Where("provider = ?", strings.TrimSpace(*params.Provider))
	}
	if !params.IncludeDisabled {
		query = query.Where("enabled = ?", true)
	}
	var items []models.Tenant
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	for i := range items {
		key, err := s.box.Open(purposeAPIKey, items[i].APIKey)
		if err != nil {
			return nil, fmt.Errorf("open api key for tenant %s: %w", items[i].ID, err)
		}
		items[i].APIKey = key
	}
	return items, nil
}

func (s *Store) UpsertTenant(ctx context.Context, item *models.Tenant) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	row := *item
	key, err := s.box.Seal(purposeAPIKey, item.APIKey)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}
	row.APIKey = key
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"name",
			"base_url",
			"location_id",
			"api_key",
			"enabled",
			"updated_at",
		}),
	}).Create(&row).Error
}

// --- sync runs --------------------------------------------------------------

func (s *Store) InsertSyncRun(ctx context.Context, item *models.SyncRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) ([]models.SyncRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SyncRun{})
	if params.TenantID != nil && strings.TrimSpace(*params.TenantID) != "" {
		query = query.Where("tenant_id = ?", strings.TrimSpace(*params.TenantID))
	}
	if params.Entity != nil && strings.TrimSpace(*params.Entity) != "" {
		query = query.Where("entity = ?", strings.TrimSpace(*params.Entity))
	}
	if params.RunID != nil && strings.TrimSpace(*params.RunID) != "" {
		query = query.Where("run_id = ?", strings.TrimSpace(*params.RunID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	var items []models.SyncRun
	err := query.
		Order("started_at desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}

var _ repository.Repository = (*Store)(nil)
