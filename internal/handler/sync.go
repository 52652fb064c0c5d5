package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dashsync/internal/events"
	"dashsync/internal/models"
	"dashsync/internal/orchestrator"
	"dashsync/internal/repository"
	"dashsync/internal/syncer"
	"dashsync/internal/tenant"
)

type SyncRunner interface {
	Run(ctx context.Context, req orchestrator.Request) (orchestrator.Summary, error)
}

type SyncHandler struct {
	Runner SyncRunner
	Store  repository.Repository
	Events *events.Hub
	Logger *zap.Logger
}

func (h *SyncHandler) Register(r *gin.Engine) {
	group := r.Group("/api/sync")
	group.POST("/run", h.runSync)
	group.GET("/state", h.listSyncState)
	group.GET("/runs", h.listRuns)
	group.GET("/counts", h.countRecords)
	group.GET("/stream", h.stream)
}

type runSyncRequest struct {
	Entities  []string `json:"entities"`
	FullSync  bool     `json:"full_sync"`
	TenantIDs []string `json:"tenant_ids"`
	Provider  string   `json:"provider"`
	FailFast  *bool    `json:"fail_fast"`
}

// @Summary Run a sync pass
// @Tags sync
// @Accept json
// @Param body body runSyncRequest false "entities, full_sync, tenant_ids, provider, fail_fast"
// @Param async query bool false "return immediately and run in the background"
// @Success 200 {object} apiResponse
// @Success 202 {object} apiResponse
// @Security BearerAuth
// @Router /api/sync/run [post]
func (h *SyncHandler) runSync(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var body runSyncRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	req := orchestrator.Request{
		Entities: cleanStrings(body.Entities),
		FullSync: body.FullSync,
		Tenants: tenant.Selector{
			IDs:      cleanStrings(body.TenantIDs),
			Provider: strings.ToLower(strings.TrimSpace(body.Provider)),
		},
		FailFast: body.FailFast,
	}
	if err := validateEntities(req.Entities); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if boolQueryDefault(c, "async", false) {
		ctx := context.WithoutCancel(c.Request.Context())
		go func() {
			if _, err := h.Runner.Run(ctx, req); err != nil {
				h.logger().Warn("async sync pass failed", zap.Error(err))
			}
		}()
		Accepted(c, gin.H{"status": "started"})
		return
	}

	sum, err := h.Runner.Run(c.Request.Context(), req)
	if err != nil {
		h.logger().Warn("sync pass failed", zap.Error(err))
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, sum, map[string]any{"failed": sum.Failed(), "counts": sum.Counts()})
}

// @Summary List sync states
// @Tags sync
// @Param tenant_id query string false "tenant id"
// @Success 200 {object} apiResponse
// @Security BearerAuth
// @Router /api/sync/state [get]
func (h *SyncHandler) listSyncState(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	states, err := h.Store.ListSyncStates(c.Request.Context(), strings.TrimSpace(c.Query("tenant_id")))
	if err != nil {
		h.logger().Warn("list sync state failed", zap.Error(err))
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, states, nil)
}

// @Summary List sync runs
// @Tags sync
// @Param tenant_id query string false "tenant id"
// @Param entity query string false "entity"
// @Param run_id query string false "orchestrator pass id"
// @Param status query string false "ok|failed|skipped"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Security BearerAuth
// @Router /api/sync/runs [get]
func (h *SyncHandler) listRuns(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	runs, err := h.Store.ListSyncRuns(c.Request.Context(), repository.ListSyncRunsParams{
		TenantID: strQueryPtr(c, "tenant_id"),
		Entity:   strQueryPtr(c, "entity"),
		RunID:    strQueryPtr(c, "run_id"),
		Status:   strQueryPtr(c, "status"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.logger().Warn("list sync runs failed", zap.Error(err))
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, runs, map[string]any{"limit": limit, "offset": offset})
}

// @Summary Count synced rows
// @Tags sync
// @Param tenant_id query string true "tenant id"
// @Param entity query string true "entity"
// @Success 200 {object} apiResponse
// @Security BearerAuth
// @Router /api/sync/counts [get]
func (h *SyncHandler) countRecords(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	tenantID := strings.TrimSpace(c.Query("tenant_id"))
	entity := strings.TrimSpace(c.Query("entity"))
	if tenantID == "" || entity == "" {
		Error(c, http.StatusBadRequest, "tenant_id and entity are required", nil)
		return
	}
	n, err := h.Store.CountRecords(c.Request.Context(), entity, tenantID)
	if errors.Is(err, repository.ErrUnknownEntity) {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"tenant_id": tenantID, "entity": entity, "count": n}, nil)
}

// @Summary Stream run events
// @Description Websocket stream of sync run progress events.
// @Tags sync
// @Security BearerAuth
// @Router /api/sync/stream [get]
func (h *SyncHandler) stream(c *gin.Context) {
	if h.Events == nil {
		Error(c, http.StatusServiceUnavailable, "event stream disabled", nil)
		return
	}
	h.Events.ServeWS(c.Writer, c.Request)
}

func (h *SyncHandler) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.NewNop()
}

func validateEntities(items []string) error {
	known := map[string]struct{}{}
	for _, p := range []string{models.ProviderGHL, models.ProviderTeamleader} {
		for _, e := range syncer.DefaultEntities(p) {
			known[e] = struct{}{}
		}
	}
	for _, e := range items {
		if _, ok := known[strings.ToLower(e)]; !ok {
			return errors.New("unknown entity: " + e)
		}
	}
	return nil
}
