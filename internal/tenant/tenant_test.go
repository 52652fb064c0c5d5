package tenant

import (
	"context"
	"testing"

	"dashsync/internal/config"
	"dashsync/internal/models"
	"dashsync/internal/repository/memory"
)

func TestStaticResolveFilters(t *testing.T) {
	p, err := NewStatic([]config.TenantConfig{
		{ID: "a", Provider: "GHL", APIKey: " key ", LocationID: "loc"},
		{ID: "b", Provider: "teamleader"},
		{ID: "c", Provider: "ghl", Disabled: true},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	all, _ := p.Resolve(context.Background(), Selector{})
	if len(all) != 2 {
		t.Fatalf("len=%d want=2", len(all))
	}
	if all[0].Provider != models.ProviderGHL || all[0].Credentials.APIKey != "key" {
		t.Fatalf("tenant=%+v", all[0])
	}
	tl, _ := p.Resolve(context.Background(), Selector{Provider: "teamleader"})
	if len(tl) != 1 || tl[0].TenantID != "b" {
		t.Fatalf("tl=%+v", tl)
	}
	byID, _ := p.Resolve(context.Background(), Selector{IDs: []string{"a", "c"}})
	if len(byID) != 1 || byID[0].TenantID != "a" {
		t.Fatalf("byID=%+v", byID)
	}
}

func TestStaticRejectsBadConfig(t *testing.T) {
	if _, err := NewStatic([]config.TenantConfig{{ID: "a", Provider: "hubspot"}}); err == nil {
		t.Fatalf("expected unknown provider error")
	}
	if _, err := NewStatic([]config.TenantConfig{{ID: "a", Provider: "ghl"}, {ID: "a", Provider: "ghl"}}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestStoreProviderSkipsDisabled(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.UpsertTenant(ctx, &models.Tenant{ID: "t1", Provider: "ghl", Enabled: true})
	_ = store.UpsertTenant(ctx, &models.Tenant{ID: "t2", Provider: "teamleader", Enabled: false})

	p, err := New(config.TenantsConfig{Source: "db"}, store)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	got, err := p.Resolve(ctx, Selector{})
	if err != nil || len(got) != 1 || got[0].TenantID != "t1" {
		t.Fatalf("got=%+v err=%v", got, err)
	}
}
