package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"dashsync/internal/config"
	"dashsync/internal/lock"
	"dashsync/internal/models"
	"dashsync/internal/normalize"
	"dashsync/internal/oauth"
	"dashsync/internal/repository"
	"dashsync/internal/repository/memory"
	"dashsync/internal/syncer"
	"dashsync/internal/syncstate"
	"dashsync/internal/tenant"
)

type fakeBuilder struct {
	// fail maps tenant/entity to the fetch error it returns.
	fail     map[string]error
	buildErr map[string]error
	fetched  []string
}

func (b *fakeBuilder) Build(ctx context.Context, t tenant.Context) ([]syncer.Spec, error) {
	_ = ctx
	if err := b.buildErr[t.TenantID]; err != nil {
		return nil, err
	}
	var specs []syncer.Spec
	for _, entity := range []string{models.EntityPipelines, models.EntityContacts, models.EntityOpportunities} {
		key := t.TenantID + "/" + entity
		specs = append(specs, syncer.Spec{
			Entity: entity,
			Kind:   syncstate.KindNone,
			Fetch: func(ctx context.Context, pos syncstate.Position, pageSize int) (syncer.Page, error) {
				b.fetched = append(b.fetched, key)
				if err := b.fail[key]; err != nil {
					return syncer.Page{}, err
				}
				return syncer.Page{Items: []normalize.Payload{{"id": "1"}}}, nil
			},
			Transform: func(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
				id, err := item.ID()
				if err != nil {
					return nil, err
				}
				return models.Contact{SyncedBase: models.SyncedBase{ID: id, TenantID: tenantID, SyncedAt: syncedAt}}, nil
			},
		})
	}
	return specs, nil
}

func newOrchestrator(t *testing.T, store *memory.Store, b *fakeBuilder, tenants ...string) *Orchestrator {
	t.Helper()
	var static []config.TenantConfig
	for _, id := range tenants {
		static = append(static, config.TenantConfig{ID: id, Provider: "ghl"})
	}
	provider, err := tenant.NewStatic(static)
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	return &Orchestrator{
		Tenants: provider,
		Specs:   b,
		Engine:  &syncer.Engine{Store: store},
		Runs:    store,
		Locker:  lock.NewMemoryLocker(),
		LockTTL: time.Minute,
		Sync:    config.SyncConfig{Prune: true, UpsertChunkSize: 10},
	}
}

func TestFailureIsolatedToEntity(t *testing.T) {
	store := memory.New()
	b := &fakeBuilder{fail: map[string]error{"a/" + models.EntityContacts: errors.New("boom")}}
	o := newOrchestrator(t, store, b, "a", "b")

	sum, err := o.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !sum.Failed() || sum.Aborted {
		t.Fatalf("summary=%+v", sum)
	}
	if len(b.fetched) != 6 {
		t.Fatalf("fetched=%v want 6 entity runs", b.fetched)
	}
	if got := sum.Tenants[0].Entities[1]; got.Status != StatusFailed || got.Stage != string(syncer.StageFetch) {
		t.Fatalf("outcome=%+v", got)
	}
	counts := sum.Counts()
	if counts[StatusOK] != 5 || counts[StatusFailed] != 1 {
		t.Fatalf("counts=%v", counts)
	}
	runs, _ := store.ListSyncRuns(context.Background(), repository.ListSyncRunsParams{})
	if len(runs) != 6 {
		t.Fatalf("sync runs=%d want=6", len(runs))
	}
}

func TestFailFastAbortsPass(t *testing.T) {
	store := memory.New()
	b := &fakeBuilder{fail: map[string]error{"a/" + models.EntityContacts: errors.New("boom")}}
	o := newOrchestrator(t, store, b, "a", "b")
	failFast := true

	sum, err := o.Run(context.Background(), Request{FailFast: &failFast})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !sum.Aborted || len(sum.Tenants) != 1 {
		t.Fatalf("summary=%+v", sum)
	}
	if len(b.fetched) != 2 {
		t.Fatalf("fetched=%v want=2", b.fetched)
	}
}

func TestRefreshFailureAbortsOnlyTenant(t *testing.T) {
	store := memory.New()
	refreshErr := &oauth.RefreshError{TenantID: "a", Err: errors.New("invalid_grant")}
	b := &fakeBuilder{fail: map[string]error{"a/" + models.EntityPipelines: refreshErr}}
	o := newOrchestrator(t, store, b, "a", "b")

	sum, err := o.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	a, bOut := sum.Tenants[0], sum.Tenants[1]
	if a.Status != StatusFailed || len(a.Entities) != 1 || a.Entities[0].Stage != string(syncer.StageToken) {
		t.Fatalf("tenant a=%+v", a)
	}
	if bOut.Status != StatusOK || len(bOut.Entities) != 3 {
		t.Fatalf("tenant b=%+v", bOut)
	}
}

func TestSetupFailureRecorded(t *testing.T) {
	store := memory.New()
	b := &fakeBuilder{buildErr: map[string]error{"a": oauth.ErrNoIntegration}}
	o := newOrchestrator(t, store, b, "a", "b")

	sum, _ := o.Run(context.Background(), Request{})
	if sum.Tenants[0].Status != StatusFailed || len(sum.Tenants[1].Entities) != 3 {
		t.Fatalf("summary=%+v", sum)
	}
	runs, _ := store.ListSyncRuns(context.Background(), repository.ListSyncRunsParams{Entity: strPtr(tenantSetupEntity)})
	if len(runs) != 1 || runs[0].Stage != string(syncer.StageToken) {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestLockedTenantSkipped(t *testing.T) {
	store := memory.New()
	b := &fakeBuilder{}
	o := newOrchestrator(t, store, b, "a")
	lease, err := o.Locker.Acquire(context.Background(), "tenant:a", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() { _ = lease.Release(context.Background()) }()

	sum, _ := o.Run(context.Background(), Request{})
	if sum.Tenants[0].Status != StatusSkipped || len(b.fetched) != 0 {
		t.Fatalf("summary=%+v fetched=%v", sum, b.fetched)
	}
	if sum.Failed() {
		t.Fatalf("a skipped tenant is not a failure")
	}
}

func TestEntitySelectionAndDisabled(t *testing.T) {
	store := memory.New()
	b := &fakeBuilder{}
	o := newOrchestrator(t, store, b, "a")
	o.Sync.Entities = map[string]config.EntitySyncConfig{models.EntityOpportunities: {Disabled: true}}

	sum, _ := o.Run(context.Background(), Request{Entities: []string{models.EntityContacts, models.EntityOpportunities}})
	ents := sum.Tenants[0].Entities
	if len(ents) != 2 || ents[0].Entity != models.EntityContacts || ents[1].Status != StatusSkipped {
		t.Fatalf("entities=%+v", ents)
	}
	if len(b.fetched) != 1 {
		t.Fatalf("fetched=%v", b.fetched)
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	store := memory.New()
	o := newOrchestrator(t, store, &fakeBuilder{}, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Loop(ctx, Request{}, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want=context.Canceled", err)
	}
}

func strPtr(s string) *string { return &s }

type lostLease struct{}

func (lostLease) Extend(ctx context.Context, ttl time.Duration) error { return lock.ErrLeaseLost }
func (lostLease) Release(ctx context.Context) error                   { return nil }

type lostLocker struct{}

func (lostLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	return lostLease{}, nil
}

type blockingBuilder struct{}

func (blockingBuilder) Build(ctx context.Context, t tenant.Context) ([]syncer.Spec, error) {
	return []syncer.Spec{{
		Entity: models.EntityContacts,
		Kind:   syncstate.KindNone,
		Fetch: func(ctx context.Context, pos syncstate.Position, pageSize int) (syncer.Page, error) {
			select {
			case <-ctx.Done():
				return syncer.Page{}, ctx.Err()
			case <-time.After(2 * time.Second):
				return syncer.Page{}, errors.New("tenant context never cancelled")
			}
		},
		Transform: func(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
			return nil, errors.New("unreachable")
		},
	}}, nil
}

func TestLostLockStopsTenant(t *testing.T) {
	store := memory.New()
	o := newOrchestrator(t, store, nil, "a")
	o.Specs = blockingBuilder{}
	o.Locker = lostLocker{}
	o.LockTTL = 30 * time.Millisecond

	sum, err := o.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	out := sum.Tenants[0]
	if out.Status != StatusFailed || out.Error != lock.ErrLeaseLost.Error() {
		t.Fatalf("tenant=%+v", out)
	}
	if len(out.Entities) != 1 || out.Entities[0].Status != StatusFailed || out.Entities[0].Stage != string(syncer.StageFetch) {
		t.Fatalf("entities=%+v", out.Entities)
	}
}
