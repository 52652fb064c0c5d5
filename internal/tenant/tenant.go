// Package tenant resolves which tenants a sync pass covers and the
// credentials each one syncs with.
package tenant

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"dashsync/internal/config"
	"dashsync/internal/models"
	"dashsync/internal/repository"
)

type Credentials struct {
	// APIKey is the GHL location token. Teamleader tenants authenticate
	// through their stored OAuth integration instead.
	APIKey     string
	LocationID string
}

type Context struct {
	TenantID    string
	Provider    string
	Name        string
	BaseURL     string
	Credentials Credentials
}

// Selector narrows a pass. Empty fields match everything.
type Selector struct {
	IDs      []string
	Provider string
}

func (s Selector) Match(c Context) bool {
	if p := strings.TrimSpace(s.Provider); p != "" && !strings.EqualFold(p, c.Provider) {
		return false
	}
	if len(s.IDs) == 0 {
		return true
	}
	for _, id := range s.IDs {
		if strings.TrimSpace(id) == c.TenantID {
			return true
		}
	}
	return false
}

type Provider interface {
	Resolve(ctx context.Context, sel Selector) ([]Context, error)
}

// New selects the provider named by cfg.Source ("config" or "db").
func New(cfg config.TenantsConfig, store repository.TenantRepository) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "config":
		return NewStatic(cfg.Static)
	case "db":
		if store == nil {
			return nil, fmt.Errorf("tenant: db source needs a store")
		}
		return &StoreProvider{Store: store}, nil
	default:
		return nil, fmt.Errorf("tenant: unknown source %q", cfg.Source)
	}
}

type StaticProvider struct {
	tenants []Context
}

func NewStatic(items []config.TenantConfig) (*StaticProvider, error) {
	p := &StaticProvider{}
	seen := map[string]struct{}{}
	for _, it := range items {
		if it.Disabled {
			continue
		}
		id := strings.TrimSpace(it.ID)
		if id == "" {
			return nil, fmt.Errorf("tenant: static tenant without id")
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("tenant: duplicate tenant %s", id)
		}
		seen[id] = struct{}{}
		provider, err := normalizeProvider(it.Provider)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", id, err)
		}
		p.tenants = append(p.tenants, Context{
			TenantID: id,
			Provider: provider,
			Name:     it.Name,
			BaseURL:  strings.TrimSpace(it.BaseURL),
			Credentials: Credentials{
				APIKey:     strings.TrimSpace(it.APIKey),
				LocationID: strings.TrimSpace(it.LocationID),
			},
		})
	}
	return p, nil
}

func (p *StaticProvider) Resolve(ctx context.Context, sel Selector) ([]Context, error) {
	_ = ctx
	out := make([]Context, 0, len(p.tenants))
	for _, t := range p.tenants {
		if sel.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// StoreProvider reads enabled tenants from the tenants table.
type StoreProvider struct {
	Store repository.TenantRepository
}

func (p *StoreProvider) Resolve(ctx context.Context, sel Selector) ([]Context, error) {
	params := repository.ListTenantsParams{IDs: sel.IDs}
	if s := strings.TrimSpace(sel.Provider); s != "" {
		params.Provider = &s
	}
	rows, err := p.Store.ListTenants(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	out := make([]Context, 0, len(rows))
	for _, row := range rows {
		c := FromModel(row)
		if sel.Match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func FromModel(row models.Tenant) Context {
	return Context{
		TenantID: row.ID,
		Provider: strings.ToLower(row.Provider),
		Name:     row.Name,
		BaseURL:  row.BaseURL,
		Credentials: Credentials{
			APIKey:     row.APIKey,
			LocationID: row.LocationID,
		},
	}
}

func normalizeProvider(p string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case models.ProviderGHL:
		return models.ProviderGHL, nil
	case models.ProviderTeamleader:
		return models.ProviderTeamleader, nil
	default:
		return "", fmt.Errorf("unknown provider %q", p)
	}
}
