// Package syncer runs one entity's pass: decide full vs incremental, page
// through the provider, upsert normalized rows, persist the cursor after
// every page and prune rows a complete full pass did not see.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"dashsync/internal/config"
	"dashsync/internal/db"
	"dashsync/internal/metrics"
	"dashsync/internal/models"
	"dashsync/internal/normalize"
	"dashsync/internal/repository"
	"dashsync/internal/syncstate"
)

const defaultPageSize = 100

// Page is one provider page. Next is the position after the page; More,
// when set, overrides the short-page stop rule.
type Page struct {
	Items []normalize.Payload
	Next  syncstate.Position
	More  *bool
}

type FetchFunc func(ctx context.Context, pos syncstate.Position, pageSize int) (Page, error)

type TransformFunc func(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error)

// Spec describes how to sync one entity for one tenant.
type Spec struct {
	Entity   string
	Provider string
	Kind     syncstate.Kind
	// AlwaysFull entities are small reference lists fetched whole every pass.
	AlwaysFull bool
	PageSize   int
	Fetch      FetchFunc
	Transform  TransformFunc
	// After runs once a pass completed.
	After func(ctx context.Context, res *Result) error
	// PruneRange, when set, limits prune to rows whose start time lies in
	// the range the pass covered. ok=false skips the prune.
	PruneRange func() (from, to time.Time, ok bool)
}

type Options struct {
	TenantID string
	Force    bool
	Settings config.EntitySettings
	// OnPage observes progress after each persisted page.
	OnPage func(Result)
}

type Result struct {
	Entity    string    `json:"entity"`
	TenantID  string    `json:"tenant_id"`
	FullSync  bool      `json:"full_sync"`
	Pages     int       `json:"pages"`
	Records   int       `json:"records"`
	Skipped   int       `json:"skipped"`
	Pruned    int64     `json:"pruned"`
	Enriched  int       `json:"enriched"`
	Done      bool      `json:"done"`
	StartedAt time.Time `json:"started_at"`
}

type Engine struct {
	Store  repository.Repository
	Logger *zap.Logger
	// Now defaults to db.NowUTC so timestamps compare cleanly with stored ones.
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return db.NowUTC()
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// Run executes one pass of spec for opts.TenantID.
func (e *Engine) Run(ctx context.Context, spec Spec, opts Options) (Result, error) {
	if e.Store == nil {
		return Result{}, fmt.Errorf("syncer: store is nil")
	}
	if spec.Fetch == nil || spec.Transform == nil {
		return Result{}, fmt.Errorf("syncer: %s has no fetcher or transform", spec.Entity)
	}
	started := e.now()
	res := Result{Entity: spec.Entity, TenantID: opts.TenantID, StartedAt: started}
	log := e.logger().With(
		zap.String("entity", spec.Entity),
		zap.String("tenant_id", opts.TenantID),
	)
	fail := func(stage Stage, err error) (Result, error) {
		serr := newStageError(spec.Entity, opts.TenantID, stage, err)
		e.writeSyncError(ctx, log, spec.Entity, opts.TenantID, serr)
		return res, serr
	}

	state, err := e.Store.GetSyncState(ctx, spec.Entity, opts.TenantID)
	if err != nil {
		return fail(StageState, err)
	}
	cursor, hasState := e.loadCursor(log, spec, state)
	var lastSynced *time.Time
	if state != nil {
		lastSynced = state.LastSyncedAt
	}

	settings := opts.Settings
	plan := syncstate.Decide(opts.Force || spec.AlwaysFull, hasState, cursor, settings.FullSyncInterval, settings.RefreshWindow, started)
	res.FullSync = plan.Full
	pageSize := settings.PageSize
	if pageSize <= 0 {
		pageSize = spec.PageSize
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	log.Info("sync start",
		zap.Bool("full_sync", plan.Full),
		zap.Any("position", plan.Position),
		zap.Int("page_size", pageSize),
	)

	pos := plan.Position
	for {
		if settings.MaxPages > 0 && res.Pages >= settings.MaxPages {
			log.Warn("max pages reached, pass left incomplete", zap.Int("max_pages", settings.MaxPages))
			break
		}
		page, err := spec.Fetch(ctx, pos, pageSize)
		if err != nil {
			return fail(StageFetch, err)
		}
		metrics.SyncPages.WithLabelValues(spec.Entity).Inc()

		records := make([]models.Record, 0, len(page.Items))
		for _, item := range page.Items {
			rec, err := spec.Transform(item, opts.TenantID, started)
			if errors.Is(err, normalize.ErrMissingID) {
				res.Skipped++
				log.Warn("skipping item without id")
				continue
			}
			if err != nil {
				return fail(StageTransform, err)
			}
			records = append(records, rec)
		}
		if len(records) > 0 {
			if err := e.Store.UpsertRecords(ctx, spec.Entity, records, settings.ChunkSize); err != nil {
				return fail(StageUpsert, err)
			}
			metrics.SyncRecords.WithLabelValues(spec.Entity).Add(float64(len(records)))
		}

		more := len(page.Items) >= pageSize
		if page.More != nil {
			more = *page.More
		}
		if len(page.Items) == 0 && page.More == nil {
			res.Done = true
			break
		}

		next := syncstate.Forward(pos, page.Next)
		if more && !advanced(pos, next) {
			return fail(StageFetch, fmt.Errorf("%w at %v", ErrCursorStalled, pos))
		}
		pos = next
		res.Pages++
		res.Records += len(records)
		saved := syncstate.Cursor{Position: pos, LastFullSyncAt: cursor.LastFullSyncAt}
		if err := e.saveState(ctx, spec.Entity, opts.TenantID, saved, lastSynced, res); err != nil {
			return fail(StageSaveState, err)
		}
		if opts.OnPage != nil {
			opts.OnPage(res)
		}
		if !more {
			res.Done = true
			break
		}
	}

	if !res.Done {
		log.Info("sync stopped before completion", zap.Int("pages", res.Pages), zap.Int("records", res.Records))
		return res, nil
	}

	if plan.Full && settings.Prune {
		if err := e.prune(ctx, log, spec, opts.TenantID, started, &res); err != nil {
			return fail(StagePrune, err)
		}
	}

	final := syncstate.Cursor{Position: completedPosition(spec.Kind, pos, started), LastFullSyncAt: cursor.LastFullSyncAt}
	if plan.Full {
		final.LastFullSyncAt = &started
	}
	finished := e.now()
	if err := e.saveState(ctx, spec.Entity, opts.TenantID, final, &finished, res); err != nil {
		return fail(StageSaveState, err)
	}

	if spec.After != nil {
		if err := spec.After(ctx, &res); err != nil {
			return fail(StageEnrich, err)
		}
	}
	log.Info("sync done",
		zap.Bool("full_sync", res.FullSync),
		zap.Int("pages", res.Pages),
		zap.Int("records", res.Records),
		zap.Int("skipped", res.Skipped),
		zap.Int64("pruned", res.Pruned),
	)
	return res, nil
}

func (e *Engine) prune(ctx context.Context, log *zap.Logger, spec Spec, tenantID string, started time.Time, res *Result) error {
	params := repository.PruneParams{Entity: spec.Entity, TenantID: tenantID, Before: started}
	if spec.PruneRange != nil {
		from, to, ok := spec.PruneRange()
		if !ok {
			log.Warn("pass covered no start range, prune skipped")
			return nil
		}
		params.StartFrom = &from
		params.StartTo = &to
	}
	pruned, err := e.Store.PruneRecords(ctx, params)
	if err != nil {
		return err
	}
	res.Pruned = pruned
	metrics.SyncPruned.WithLabelValues(spec.Entity).Add(float64(pruned))
	return nil
}

// advanced reports whether next is strictly ahead of cur.
func advanced(cur, next syncstate.Position) bool {
	if next == nil {
		return false
	}
	if cur == nil || cur.Kind() != next.Kind() {
		return true
	}
	return next.Compare(cur) > 0
}

// completedPosition is where the next pass resumes. Date and window cursors
// restart at this pass's start since provider records at or after it may
// still change.
func completedPosition(kind syncstate.Kind, pos syncstate.Position, started time.Time) syncstate.Position {
	switch kind {
	case syncstate.KindDate:
		return syncstate.DatePosition{Since: started, Page: 1}
	case syncstate.KindWindow:
		return syncstate.WindowPosition{From: started}
	case syncstate.KindNone:
		return nil
	default:
		return pos
	}
}

func (e *Engine) loadCursor(log *zap.Logger, spec Spec, state *models.SyncState) (syncstate.Cursor, bool) {
	if !state.HasCursor() {
		return syncstate.Cursor{}, false
	}
	cursor, mismatched, err := syncstate.Decode(state.Cursor, spec.Kind)
	if err != nil {
		log.Warn("unreadable cursor, starting over", zap.Error(err))
		return syncstate.Cursor{}, false
	}
	if mismatched {
		log.Warn("cursor kind does not match entity, dropping position", zap.String("want", string(spec.Kind)))
		return syncstate.Cursor{LastFullSyncAt: cursor.LastFullSyncAt}, false
	}
	return cursor, true
}

func (e *Engine) saveState(ctx context.Context, entity, tenantID string, c syncstate.Cursor, lastSynced *time.Time, res Result) error {
	raw, err := c.Encode()
	if err != nil {
		return err
	}
	now := e.now()
	return e.Store.SaveSyncState(ctx, &models.SyncState{
		Entity:        entity,
		TenantID:      tenantID,
		Cursor:        datatypes.JSON(raw),
		LastSyncedAt:  lastSynced,
		LastAttemptAt: &res.StartedAt,
		LastError:     nil,
		StatsJSON:     statsJSON(res),
		UpdatedAt:     now,
	})
}

func (e *Engine) writeSyncError(ctx context.Context, log *zap.Logger, entity, tenantID string, err error) {
	log.Error("sync failed", zap.String("stage", string(StageOf(err))), zap.Error(err))
	if werr := e.Store.RecordSyncError(context.WithoutCancel(ctx), entity, tenantID, err, e.now()); werr != nil {
		log.Warn("write sync error failed", zap.Error(werr))
	}
}

func statsJSON(res Result) datatypes.JSON {
	b, err := json.Marshal(map[string]any{
		"full_sync": res.FullSync,
		"pages":     res.Pages,
		"records":   res.Records,
		"skipped":   res.Skipped,
		"pruned":    res.Pruned,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
