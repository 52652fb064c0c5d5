// Package memory is an in-process Repository used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dashsync/internal/models"
	"dashsync/internal/repository"
)

type stateKey struct {
	entity   string
	tenantID string
}

type integrationKey struct {
	tenantID string
	provider string
}

type Store struct {
	mu           sync.RWMutex
	states       map[stateKey]models.SyncState
	records      map[string]map[string]map[string]models.Record
	integrations map[integrationKey]models.OAuthIntegration
	tenants      map[string]models.Tenant
	runs         []models.SyncRun

	// Fail* inject storage errors for tests.
	FailUpsert    error
	FailSaveState error
	FailPrune     error
}

func New() *Store {
	return &Store{
		states:       map[stateKey]models.SyncState{},
		records:      map[string]map[string]map[string]models.Record{},
		integrations: map[integrationKey]models.OAuthIntegration{},
		tenants:      map[string]models.Tenant{},
	}
}

func (s *Store) GetSyncState(ctx context.Context, entity, tenantID string) (*models.SyncState, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[stateKey{entity, tenantID}]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	_ = ctx
	if state == nil {
		return nil
	}
	if s.FailSaveState != nil {
		return s.FailSaveState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey{state.Entity, state.TenantID}] = *state
	return nil
}

func (s *Store) RecordSyncError(ctx context.Context, entity, tenantID string, syncErr error, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stateKey{entity, tenantID}
	st, ok := s.states[k]
	if !ok {
		st = models.SyncState{Entity: entity, TenantID: tenantID}
	}
	st.LastAttemptAt = &at
	st.UpdatedAt = at
	st.LastError = nil
	if syncErr != nil {
		msg := syncErr.Error()
		st.LastError = &msg
	}
	s.states[k] = st
	return nil
}

func (s *Store) ListSyncStates(ctx context.Context, tenantID string) ([]models.SyncState, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SyncState, 0, len(s.states))
	for _, st := range s.states {
		if tenantID != "" && st.TenantID != tenantID {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Entity < out[j].Entity
	})
	return out, nil
}

func (s *Store) UpsertRecords(ctx context.Context, entity string, rows []models.Record, chunkSize int) error {
	_ = ctx
	_ = chunkSize
	if !models.KnownEntity(entity) {
		return fmt.Errorf("%w: %s", repository.ErrUnknownEntity, entity)
	}
	if s.FailUpsert != nil {
		return s.FailUpsert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byTenant, ok := s.records[entity]
	if !ok {
		byTenant = map[string]map[string]models.Record{}
		s.records[entity] = byTenant
	}
	for _, row := range rows {
		b := row.Base()
		byID, ok := byTenant[b.TenantID]
		if !ok {
			byID = map[string]models.Record{}
			byTenant[b.TenantID] = byID
		}
		if p, ok := row.(models.Preserver); ok {
			if prev, exists := byID[b.ID]; exists {
				row = p.PreserveFrom(prev)
			}
		}
		byID[b.ID] = row
	}
	return nil
}

func (s *Store) PruneRecords(ctx context.Context, p repository.PruneParams) (int64, error) {
	_ = ctx
	if s.FailPrune != nil {
		return 0, s.FailPrune
	}
	if p.Scoped() && p.Entity != models.EntityAppointments {
		return 0, fmt.Errorf("%w: %s", repository.ErrNoStartTime, p.Entity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.records[p.Entity][p.TenantID]
	var n int64
	for id, row := range byID {
		if !row.Base().SyncedAt.Before(p.Before) {
			continue
		}
		if p.Scoped() && !inStartRange(row, p) {
			continue
		}
		delete(byID, id)
		n++
	}
	return n, nil
}

func inStartRange(row models.Record, p repository.PruneParams) bool {
	var start *time.Time
	switch r := row.(type) {
	case models.Appointment:
		start = r.StartTime
	case *models.Appointment:
		start = r.StartTime
	}
	if start == nil {
		return false
	}
	if p.StartFrom != nil && start.Before(*p.StartFrom) {
		return false
	}
	if p.StartTo != nil && !start.Before(*p.StartTo) {
		return false
	}
	return true
}

func (s *Store) CountRecords(ctx context.Context, entity, tenantID string) (int64, error) {
	_ = ctx
	if !models.KnownEntity(entity) {
		return 0, fmt.Errorf("%w: %s", repository.ErrUnknownEntity, entity)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records[entity][tenantID])), nil
}

// Records returns the tenant's rows for entity sorted by id.
func (s *Store) Records(entity, tenantID string) []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.records[entity][tenantID]
	out := make([]models.Record, 0, len(byID))
	for _, row := range byID {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base().ID < out[j].Base().ID })
	return out
}

// Record returns a single row.
func (s *Store) Record(entity, tenantID, id string) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.records[entity][tenantID][id]
	return row, ok
}

func (s *Store) ListDealsForPhaseCheck(ctx context.Context, tenantID string, limit int) ([]models.Deal, error) {
	_ = ctx
	s.mu.RLock()
	var unchecked, stale []models.Deal
	for _, row := range s.records[models.EntityTLDeals][tenantID] {
		d, ok := row.(models.Deal)
		if !ok {
			continue
		}
		switch {
		case d.PhaseCheckedAt == nil:
			unchecked = append(unchecked, d)
		case d.SourceUpdatedAt != nil && d.PhaseCheckedAt.Before(*d.SourceUpdatedAt):
			stale = append(stale, d)
		}
	}
	s.mu.RUnlock()

	byRecency := func(items []models.Deal) {
		sort.Slice(items, func(i, j int) bool {
			a, b := items[i].SourceUpdatedAt, items[j].SourceUpdatedAt
			switch {
			case a != nil && b != nil && !a.Equal(*b):
				return a.After(*b)
			case a != nil && b == nil:
				return true
			case a == nil && b != nil:
				return false
			default:
				return items[i].ID < items[j].ID
			}
		})
	}
	byRecency(unchecked)
	byRecency(stale)
	out := append(unchecked, stale...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkDealPhaseChecked(ctx context.Context, tenantID, dealID string, hadAppointment bool, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.records[models.EntityTLDeals][tenantID]
	row, ok := byID[dealID]
	if !ok {
		return nil
	}
	d, ok := row.(models.Deal)
	if !ok {
		return nil
	}
	d.HadAppointment = &hadAppointment
	d.PhaseCheckedAt = &at
	byID[dealID] = d
	return nil
}

func (s *Store) ListDealPhases(ctx context.Context, tenantID string) ([]models.DealPhase, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DealPhase
	for _, row := range s.records[models.EntityTLPhases][tenantID] {
		if p, ok := row.(models.DealPhase); ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetIntegration(ctx context.Context, tenantID, provider string) (*models.OAuthIntegration, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.integrations[integrationKey{tenantID, provider}]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (s *Store) SaveIntegration(ctx context.Context, item *models.OAuthIntegration) error {
	_ = ctx
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := integrationKey{item.TenantID, item.Provider}
	row := *item
	now := time.Now().UTC()
	if prev, ok := s.integrations[k]; ok {
		row.CreatedAt = prev.CreatedAt
	} else if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	s.integrations[k] = row
	return nil
}

func (s *Store) ListTenants(ctx context.Context, params repository.ListTenantsParams) ([]models.Tenant, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := map[string]struct{}{}
	for _, id := range params.IDs {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = struct{}{}
		}
	}
	var out []models.Tenant
	for _, t := range s.tenants {
		if len(ids) > 0 {
			if _, ok := ids[t.ID]; !ok {
				continue
			}
		}
		if params.Provider != nil && *params.Provider != "" && t.Provider != *params.Provider {
			continue
		}
		if !params.IncludeDisabled && !t.Enabled {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertTenant(ctx context.Context, item *models.Tenant) error {
	_ = ctx
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[item.ID] = *item
	return nil
}

func (s *Store) InsertSyncRun(ctx context.Context, item *models.SyncRun) error {
	_ = ctx
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *item)
	return nil
}

func (s *Store) ListSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) ([]models.SyncRun, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SyncRun
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if params.TenantID != nil && *params.TenantID != "" && r.TenantID != *params.TenantID {
			continue
		}
		if params.Entity != nil && *params.Entity != "" && r.Entity != *params.Entity {
			continue
		}
		if params.RunID != nil && *params.RunID != "" && r.RunID.String() != *params.RunID {
			continue
		}
		if params.Status != nil && *params.Status != "" && r.Status != *params.Status {
			continue
		}
		out = append(out, r)
	}
	if params.Offset > 0 {
		if params.Offset >= len(out) {
			return nil, nil
		}
		out = out[params.Offset:]
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

var _ repository.Repository = (*Store)(nil)
