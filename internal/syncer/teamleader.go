package syncer

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dashsync/internal/client/teamleader"
	"dashsync/internal/models"
	"dashsync/internal/normalize"
	"dashsync/internal/syncstate"
)

// TeamleaderSource is the subset of *teamleader.Client the specs need.
type TeamleaderSource interface {
	List(ctx context.Context, endpoint string, p teamleader.ListParams) ([]normalize.Payload, error)
	Info(ctx context.Context, endpoint, id string) (normalize.Payload, error)
}

const (
	SinceDate     = "date"
	SinceDateTime = "datetime"

	layoutDate     = "2006-01-02"
	layoutDateTime = time.RFC3339
)

// SinceFormat tracks which updated_since rendering the provider accepts.
// It switches to the alternate at most once and keeps it for the run.
type SinceFormat struct {
	mu       sync.Mutex
	layout   string
	switched bool
	logger   *zap.Logger
}

func NewSinceFormat(preferred string, logger *zap.Logger) *SinceFormat {
	layout := layoutDate
	if strings.EqualFold(strings.TrimSpace(preferred), SinceDateTime) {
		layout = layoutDateTime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SinceFormat{layout: layout, logger: logger}
}

// Layout is the time layout currently in use.
func (f *SinceFormat) Layout() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layout
}

func (f *SinceFormat) fallback(rejected string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.layout != rejected {
		// Already switched by another call; use what is current.
		return f.layout, true
	}
	if f.switched {
		return "", false
	}
	f.switched = true
	if f.layout == layoutDate {
		f.layout = layoutDateTime
	} else {
		f.layout = layoutDate
	}
	return f.layout, true
}

// List calls endpoint with updated_since rendered from since. A rejected
// filter is retried once with the alternate format.
func (f *SinceFormat) List(ctx context.Context, src TeamleaderSource, endpoint string, p teamleader.ListParams, since time.Time) ([]normalize.Payload, error) {
	if since.IsZero() {
		return src.List(ctx, endpoint, p)
	}
	layout := f.Layout()
	p.UpdatedSince = since.UTC().Format(layout)
	items, err := src.List(ctx, endpoint, p)
	if err == nil || !teamleader.IsFilterRejected(err) {
		return items, err
	}
	alt, ok := f.fallback(layout)
	if !ok {
		return nil, err
	}
	f.logger.Warn("updated_since rejected, retrying with alternate format",
		zap.String("endpoint", endpoint),
		zap.String("rejected", p.UpdatedSince),
		zap.String("layout", alt),
		zap.Error(err),
	)
	p.UpdatedSince = since.UTC().Format(alt)
	return src.List(ctx, endpoint, p)
}

type tlEntity struct {
	entity     string
	endpoint   string
	alwaysFull bool
	// filtered entities send updated_since on incremental passes.
	filtered  bool
	transform TransformFunc
}

var teamleaderEntities = []tlEntity{
	{models.EntityTLPipelines, teamleader.EndpointDealPipelines, true, false, transformTLPipeline},
	{models.EntityTLPhases, teamleader.EndpointDealPhases, true, false, transformTLPhase},
	{models.EntityTLLostReasons, teamleader.EndpointLostReasons, true, false, transformTLLostReason},
	{models.EntityTLCompanies, teamleader.EndpointCompanies, false, true, transformTLCompany},
	{models.EntityTLDeals, teamleader.EndpointDeals, false, true, transformTLDeal},
	{models.EntityTLQuotations, teamleader.EndpointQuotations, true, false, transformTLQuotation},
	{models.EntityTLInvoices, teamleader.EndpointInvoices, false, true, transformTLInvoice},
	{models.EntityTLMeetings, teamleader.EndpointMeetings, true, false, transformTLMeeting},
}

// TeamleaderSpecs returns the Teamleader entity specs in dependency order.
// enrich, when non-nil, runs after a completed deals pass.
func TeamleaderSpecs(src TeamleaderSource, since *SinceFormat, pageSize int, enrich *DealEnricher) []Spec {
	out := make([]Spec, 0, len(teamleaderEntities))
	for _, e := range teamleaderEntities {
		spec := Spec{
			Entity:     e.entity,
			Provider:   models.ProviderTeamleader,
			Kind:       syncstate.KindDate,
			AlwaysFull: e.alwaysFull,
			PageSize:   pageSize,
			Fetch:      dateFetcher(src, since, e.endpoint, e.filtered),
			Transform:  e.transform,
		}
		if e.entity == models.EntityTLDeals && enrich != nil {
			spec.After = enrich.After
		}
		out = append(out, spec)
	}
	return out
}

// dateFetcher pages a *.list endpoint by page number, filtering by the
// position's Since when the entity supports it.
func dateFetcher(src TeamleaderSource, since *SinceFormat, endpoint string, filtered bool) FetchFunc {
	return func(ctx context.Context, pos syncstate.Position, pageSize int) (Page, error) {
		cur := syncstate.DatePosition{Page: 1}
		if p, ok := pos.(syncstate.DatePosition); ok {
			cur = p
		}
		if cur.Page < 1 {
			cur.Page = 1
		}
		params := teamleader.ListParams{Page: cur.Page, Size: pageSize}
		var items []normalize.Payload
		var err error
		if filtered && since != nil {
			items, err = since.List(ctx, src, endpoint, params, cur.Since)
		} else {
			items, err = src.List(ctx, endpoint, params)
		}
		if err != nil {
			return Page{}, err
		}
		return Page{
			Items: items,
			Next:  syncstate.DatePosition{Since: cur.Since, Page: cur.Page + 1},
		}, nil
	}
}

func transformTLCompany(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.Company{
		SyncedBase: base,
		Name:       item.String("name"),
		VATNumber:  item.String("vat_number", "vatNumber"),
		Email:      item.Primary([]string{"email"}, []string{"emails"}, "email", "value"),
		Phone:      item.Primary([]string{"telephone", "phone"}, []string{"telephones"}, "number", "value"),
		Website:    item.String("website"),
		Status:     item.String("status"),
	}, nil
}

func transformTLDeal(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.Deal{
		SyncedBase:     base,
		Title:          item.String("title"),
		Reference:      item.String("reference"),
		Status:         item.String("status"),
		PipelineID:     item.String("pipeline.id", "pipeline_id"),
		PhaseID:        item.String("current_phase.id", "phase.id", "phase_id"),
		CustomerType:   item.String("lead.customer.type", "customer.type"),
		CustomerID:     item.String("lead.customer.id", "customer.id"),
		EstimatedValue: item.Decimal("estimated_value.amount", "estimated_value"),
		Currency:       item.String("estimated_value.currency", "currency"),
		LostReasonID:   item.String("lost_reason.reason.id", "lost_reason.id"),
		ClosedAt:       item.Time("closed_at"),
	}, nil
}

func transformTLPipeline(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.DealPipeline{
		SyncedBase: base,
		Name:       item.String("name"),
		Status:     item.String("status"),
	}, nil
}

func transformTLPhase(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.DealPhase{
		SyncedBase: base,
		Name:       item.String("name"),
		PipelineID: item.String("pipeline.id", "pipeline_id"),
		SortOrder:  item.Int("sort_order", "order", "position"),
	}, nil
}

func transformTLLostReason(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.LostReason{SyncedBase: base, Name: item.String("name")}, nil
}

func transformTLQuotation(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.Quotation{
		SyncedBase: base,
		DealID:     item.String("deal.id", "deal_id"),
		Status:     item.String("status"),
		Total:      item.Decimal("total.tax_exclusive.amount", "total.amount", "total"),
		Currency:   item.String("total.tax_exclusive.currency", "total.currency", "currency"),
	}, nil
}

func transformTLInvoice(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.Invoice{
		SyncedBase:    base,
		InvoiceNumber: item.String("invoice_number", "number"),
		Status:        item.String("status"),
		CustomerID:    item.String("invoicee.customer.id", "customer.id"),
		Total:         item.Decimal("total.tax_exclusive.amount", "total.payable.amount", "total.amount"),
		Currency:      item.String("total.tax_exclusive.currency", "total.payable.currency", "currency"),
		InvoiceDate:   item.Time("invoice_date", "date"),
		DueDate:       item.Time("due_on", "due_date"),
		PaidAt:        item.Time("paid_at"),
	}, nil
}

func transformTLMeeting(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.Meeting{
		SyncedBase: base,
		Title:      item.String("title"),
		StartsAt:   item.Time("starts_at", "start"),
		EndsAt:     item.Time("ends_at", "end"),
		DealID:     item.String("deal.id"),
		CustomerID: item.String("customer.id"),
	}, nil
}
