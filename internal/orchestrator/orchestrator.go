// Package orchestrator runs sync passes across tenants and entities.
// Tenants and entities run sequentially; a tenant is locked for the
// duration of its entities so replicas never sync the same tenant twice.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dashsync/internal/config"
	"dashsync/internal/events"
	"dashsync/internal/lock"
	"dashsync/internal/metrics"
	"dashsync/internal/models"
	"dashsync/internal/oauth"
	"dashsync/internal/repository"
	"dashsync/internal/syncer"
	"dashsync/internal/tenant"
)

const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"

	// tenantSetupEntity labels SyncRun rows for failures before any entity ran.
	tenantSetupEntity = "*"
)

type SpecBuilder interface {
	Build(ctx context.Context, t tenant.Context) ([]syncer.Spec, error)
}

type Runner interface {
	Run(ctx context.Context, spec syncer.Spec, opts syncer.Options) (syncer.Result, error)
}

type Orchestrator struct {
	Tenants tenant.Provider
	Specs   SpecBuilder
	Engine  Runner
	Runs    repository.RunRepository
	Locker  lock.Locker
	LockTTL time.Duration
	Sync    config.SyncConfig
	Config  config.OrchestratorConfig
	Events  *events.Hub
	Logger  *zap.Logger
	Now     func() time.Time
}

type Request struct {
	Entities []string        `json:"entities"`
	FullSync bool            `json:"full_sync"`
	Tenants  tenant.Selector `json:"-"`
	// FailFast overrides orchestrator.fail_fast when set.
	FailFast *bool `json:"fail_fast"`
}

type EntityOutcome struct {
	Entity   string `json:"entity"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Error    string `json:"error,omitempty"`
	FullSync bool   `json:"full_sync"`
	Pages    int    `json:"pages"`
	Records  int    `json:"records"`
	Skipped  int    `json:"skipped"`
	Pruned   int64  `json:"pruned"`
	Enriched int    `json:"enriched"`
	Done     bool   `json:"done"`
}

type TenantOutcome struct {
	TenantID string          `json:"tenant_id"`
	Provider string          `json:"provider"`
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Entities []EntityOutcome `json:"entities"`
}

type Summary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Aborted    bool            `json:"aborted"`
	Tenants    []TenantOutcome `json:"tenants"`
}

// Failed reports whether any tenant or entity failed.
func (s Summary) Failed() bool {
	for _, t := range s.Tenants {
		if t.Status == StatusFailed {
			return true
		}
		for _, e := range t.Entities {
			if e.Status == StatusFailed {
				return true
			}
		}
	}
	return false
}

// Counts returns the number of entity outcomes per status.
func (s Summary) Counts() map[string]int {
	out := map[string]int{}
	for _, t := range s.Tenants {
		for _, e := range t.Entities {
			out[e.Status]++
		}
	}
	return out
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Run executes one pass. The returned error covers only failures to start
// the pass; per-entity failures are reported in the Summary.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Summary, error) {
	if o.Tenants == nil || o.Specs == nil || o.Engine == nil {
		return Summary{}, fmt.Errorf("orchestrator: not configured")
	}
	runID := uuid.New()
	sum := Summary{RunID: runID.String(), StartedAt: o.now()}
	failFast := o.Config.FailFast
	if req.FailFast != nil {
		failFast = *req.FailFast
	}
	entities := req.Entities
	if len(entities) == 0 {
		entities = o.Config.Entities
	}
	log := o.logger().With(zap.String("run_id", sum.RunID))
	o.Events.Publish(events.Event{Type: events.TypeRunStarted, RunID: sum.RunID, At: sum.StartedAt})

	tenants, err := o.Tenants.Resolve(ctx, req.Tenants)
	if err != nil {
		return sum, fmt.Errorf("resolve tenants: %w", err)
	}
	log.Info("sync pass start",
		zap.Int("tenants", len(tenants)),
		zap.Strings("entities", entities),
		zap.Bool("full_sync", req.FullSync),
		zap.Bool("fail_fast", failFast),
	)

	for _, t := range tenants {
		if ctx.Err() != nil {
			sum.Aborted = true
			break
		}
		out := o.runTenant(ctx, log, runID, t, entities, req.FullSync, failFast)
		sum.Tenants = append(sum.Tenants, out)
		if failFast && tenantFailed(out) {
			log.Warn("fail-fast: aborting pass", zap.String("tenant_id", t.TenantID))
			sum.Aborted = true
			break
		}
	}

	sum.FinishedAt = o.now()
	status := StatusOK
	if sum.Failed() {
		status = StatusFailed
	}
	o.Events.Publish(events.Event{Type: events.TypeRunFinished, RunID: sum.RunID, Status: status, At: sum.FinishedAt})
	log.Info("sync pass done",
		zap.String("status", status),
		zap.Bool("aborted", sum.Aborted),
		zap.Any("counts", sum.Counts()),
		zap.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
	)
	return sum, nil
}

func tenantFailed(t TenantOutcome) bool {
	return Summary{Tenants: []TenantOutcome{t}}.Failed()
}

func (o *Orchestrator) runTenant(ctx context.Context, log *zap.Logger, runID uuid.UUID, t tenant.Context, entities []string, full, failFast bool) TenantOutcome {
	out := TenantOutcome{TenantID: t.TenantID, Provider: t.Provider, Status: StatusOK}
	log = log.With(zap.String("tenant_id", t.TenantID), zap.String("provider", t.Provider))

	if o.Locker != nil {
		lease, err := o.Locker.Acquire(ctx, "tenant:"+t.TenantID, o.LockTTL)
		if errors.Is(err, lock.ErrLocked) {
			log.Info("tenant already syncing, skipped")
			out.Status = StatusSkipped
			o.Events.Publish(events.Event{Type: events.TypeTenantSkipped, RunID: runID.String(), TenantID: t.TenantID, Status: StatusSkipped, At: o.now()})
			return out
		}
		if err != nil {
			out.Status = StatusFailed
			out.Error = fmt.Sprintf("acquire lock: %v", err)
			log.Error("acquire tenant lock failed", zap.Error(err))
			return out
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("release tenant lock failed", zap.Error(err))
			}
		}()

		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		stop := lock.KeepAlive(ctx, lease, o.LockTTL, func(err error) {
			if errors.Is(err, lock.ErrLeaseLost) {
				log.Error("tenant lock lost, stopping tenant")
				cancel(err)
				return
			}
			log.Warn("extend tenant lock failed", zap.Error(err))
		})
		defer stop()
	}

	started := o.now()
	specs, err := o.Specs.Build(ctx, t)
	if err != nil {
		stage := "setup"
		if errors.Is(err, oauth.ErrRefreshFailed) || errors.Is(err, oauth.ErrNoIntegration) {
			stage = string(syncer.StageToken)
		}
		out.Status = StatusFailed
		out.Error = err.Error()
		log.Error("tenant setup failed", zap.String("stage", stage), zap.Error(err))
		o.recordRun(ctx, log, runID, t, EntityOutcome{Entity: tenantSetupEntity, Status: StatusFailed, Stage: stage, Error: err.Error(), FullSync: full}, started)
		return out
	}
	specs = syncer.Select(specs, entities)

	for _, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		eo, abortTenant := o.runEntity(ctx, log, runID, t, spec, full)
		out.Entities = append(out.Entities, eo)
		if eo.Status != StatusFailed {
			continue
		}
		if abortTenant {
			out.Status = StatusFailed
			out.Error = eo.Error
			log.Warn("token refresh failed, aborting tenant")
			break
		}
		if failFast {
			break
		}
	}
	if cause := context.Cause(ctx); errors.Is(cause, lock.ErrLeaseLost) {
		out.Status = StatusFailed
		out.Error = cause.Error()
	}
	return out
}

func (o *Orchestrator) runEntity(ctx context.Context, log *zap.Logger, runID uuid.UUID, t tenant.Context, spec syncer.Spec, full bool) (EntityOutcome, bool) {
	settings := o.Sync.Entity(spec.Entity)
	eo := EntityOutcome{Entity: spec.Entity, Status: StatusOK}
	if !settings.Enabled {
		eo.Status = StatusSkipped
		return eo, false
	}
	started := o.now()
	o.Events.Publish(events.Event{Type: events.TypeEntityStarted, RunID: runID.String(), TenantID: t.TenantID, Entity: spec.Entity, At: started})

	res, err := o.Engine.Run(ctx, spec, syncer.Options{
		TenantID: t.TenantID,
		Force:    full,
		Settings: settings,
		OnPage: func(r syncer.Result) {
			o.Events.Publish(events.Event{
				Type:     events.TypeEntityPage,
				RunID:    runID.String(),
				TenantID: t.TenantID,
				Entity:   spec.Entity,
				Pages:    r.Pages,
				Records:  r.Records,
				At:       o.now(),
			})
		},
	})
	eo.FullSync = res.FullSync
	eo.Pages = res.Pages
	eo.Records = res.Records
	eo.Skipped = res.Skipped
	eo.Pruned = res.Pruned
	eo.Enriched = res.Enriched
	eo.Done = res.Done

	abortTenant := false
	if err != nil {
		eo.Status = StatusFailed
		eo.Stage = string(syncer.StageOf(err))
		eo.Error = err.Error()
		abortTenant = errors.Is(err, oauth.ErrRefreshFailed)
	}

	finished := o.now()
	metrics.SyncRuns.WithLabelValues(t.Provider, spec.Entity, eo.Status).Inc()
	metrics.SyncDuration.WithLabelValues(t.Provider, spec.Entity).Observe(finished.Sub(started).Seconds())
	if err == nil {
		metrics.LastSuccess.WithLabelValues(t.TenantID, spec.Entity).Set(float64(finished.Unix()))
	}
	o.Events.Publish(events.Event{
		Type:     events.TypeEntityDone,
		RunID:    runID.String(),
		TenantID: t.TenantID,
		Entity:   spec.Entity,
		Status:   eo.Status,
		Stage:    eo.Stage,
		Pages:    eo.Pages,
		Records:  eo.Records,
		Pruned:   eo.Pruned,
		Error:    eo.Error,
		At:       finished,
	})
	o.recordRun(ctx, log, runID, t, eo, started)
	return eo, abortTenant
}

func (o *Orchestrator) recordRun(ctx context.Context, log *zap.Logger, runID uuid.UUID, t tenant.Context, eo EntityOutcome, started time.Time) {
	if o.Runs == nil {
		return
	}
	finished := o.now()
	row := &models.SyncRun{
		ID:         uuid.New(),
		RunID:      runID,
		TenantID:   t.TenantID,
		Entity:     eo.Entity,
		FullSync:   eo.FullSync,
		Status:     eo.Status,
		Stage:      eo.Stage,
		Pages:      eo.Pages,
		Records:    eo.Records,
		Pruned:     eo.Pruned,
		StartedAt:  started,
		FinishedAt: &finished,
	}
	if eo.Error != "" {
		msg := eo.Error
		row.Error = &msg
	}
	if err := o.Runs.InsertSyncRun(context.WithoutCancel(ctx), row); err != nil {
		log.Warn("insert sync run failed", zap.String("entity", eo.Entity), zap.Error(err))
	}
}

// Loop runs passes every interval until ctx is done.
func (o *Orchestrator) Loop(ctx context.Context, req Request, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("orchestrator: loop interval must be positive")
	}
	for {
		sum, err := o.Run(ctx, req)
		if err != nil {
			o.logger().Error("sync pass failed to start", zap.Error(err))
		} else if sum.Failed() {
			o.logger().Warn("sync pass finished with failures", zap.String("run_id", sum.RunID), zap.Any("counts", sum.Counts()))
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
