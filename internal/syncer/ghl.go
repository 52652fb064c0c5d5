package syncer

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"dashsync/internal/client/ghl"
	"dashsync/internal/config"
	"dashsync/internal/models"
	"dashsync/internal/normalize"
	"dashsync/internal/syncstate"
)

// GHLSource is the subset of *ghl.Client the specs need.
type GHLSource interface {
	ListContacts(ctx context.Context, p ghl.SearchParams) (*ghl.Page, error)
	SearchOpportunities(ctx context.Context, p ghl.SearchParams) (*ghl.Page, error)
	ListPipelines(ctx context.Context) ([]normalize.Payload, error)
	ListCalendars(ctx context.Context) ([]normalize.Payload, error)
	ListCalendarEvents(ctx context.Context, calendarID string, from, to time.Time) ([]normalize.Payload, error)
}

var (
	createdAliases = []string{"dateAdded", "createdAt", "created_at", "added_at"}
	updatedAliases = []string{"dateUpdated", "updatedAt", "updated_at", "lastUpdated"}
)

// GHLSpecs returns the GHL entity specs in dependency order.
func GHLSpecs(src GHLSource, cfg config.GHLConfig, logger *zap.Logger, now func() time.Time) []Spec {
	if now == nil {
		now = time.Now
	}
	return []Spec{
		{
			Entity:     models.EntityPipelines,
			Provider:   models.ProviderGHL,
			Kind:       syncstate.KindNone,
			AlwaysFull: true,
			PageSize:   cfg.PageSize,
			Fetch: func(ctx context.Context, _ syncstate.Position, _ int) (Page, error) {
				items, err := src.ListPipelines(ctx)
				if err != nil {
					return Page{}, err
				}
				return Page{Items: items, More: boolPtr(false)}, nil
			},
			Transform: transformGHLPipeline,
		},
		{
			Entity:    models.EntityContacts,
			Provider:  models.ProviderGHL,
			Kind:      syncstate.KindOffset,
			PageSize:  cfg.PageSize,
			Fetch:     offsetFetcher(src.ListContacts),
			Transform: transformGHLContact,
		},
		{
			Entity:    models.EntityOpportunities,
			Provider:  models.ProviderGHL,
			Kind:      syncstate.KindOffset,
			PageSize:  cfg.PageSize,
			Fetch:     offsetFetcher(src.SearchOpportunities),
			Transform: transformGHLOpportunity,
		},
		appointmentSpec(src, cfg, logger, now),
	}
}

type searchFunc func(ctx context.Context, p ghl.SearchParams) (*ghl.Page, error)

// offsetFetcher pages a GHL search endpoint. The next position comes from
// the response meta, falling back to the last item's creation time and id.
func offsetFetcher(search searchFunc) FetchFunc {
	return func(ctx context.Context, pos syncstate.Position, pageSize int) (Page, error) {
		params := ghl.SearchParams{Limit: pageSize}
		if p, ok := pos.(syncstate.OffsetPosition); ok {
			params.StartAfter = p.StartAfter
			params.StartAfterID = p.StartAfterID
		}
		page, err := search(ctx, params)
		if err != nil {
			return Page{}, err
		}
		out := Page{Items: page.Items}
		if page.StartAfter != nil && *page.StartAfter > 0 {
			out.Next = syncstate.OffsetPosition{StartAfter: *page.StartAfter, StartAfterID: page.StartAfterID}
		} else if len(page.Items) > 0 {
			out.Next = lastItemPosition(page.Items[len(page.Items)-1])
		}
		return out, nil
	}
}

func lastItemPosition(item normalize.Payload) syncstate.Position {
	at := item.Time(createdAliases...)
	if at == nil {
		return nil
	}
	return syncstate.OffsetPosition{StartAfter: at.UnixMilli(), StartAfterID: item.StringValue("id")}
}

func appointmentSpec(src GHLSource, cfg config.GHLConfig, logger *zap.Logger, now func() time.Time) Spec {
	w := &appointmentWalk{src: src, cfg: cfg, logger: logger, now: now}
	return Spec{
		Entity:     models.EntityAppointments,
		Provider:   models.ProviderGHL,
		Kind:       syncstate.KindWindow,
		PageSize:   cfg.PageSize,
		Fetch:      w.fetch,
		Transform:  transformGHLAppointment,
		PruneRange: w.covered,
	}
}

// appointmentWalk fetches fixed windows from the lookback up to the horizon.
// Each window queries every calendar of the location.
type appointmentWalk struct {
	src    GHLSource
	cfg    config.GHLConfig
	logger *zap.Logger
	now    func() time.Time

	calendars []string
	loaded    bool
	// first and last bound what a walk starting at the lookback fetched.
	first, last time.Time
	fromStart   bool
}

func (w *appointmentWalk) fetch(ctx context.Context, pos syncstate.Position, _ int) (Page, error) {
	if !w.loaded {
		items, err := w.src.ListCalendars(ctx)
		if err != nil {
			return Page{}, err
		}
		for _, c := range items {
			if id := c.StringValue("id"); id != "" {
				w.calendars = append(w.calendars, id)
			}
		}
		w.loaded = true
	}
	current := w.now().UTC()
	from := current.Add(-w.cfg.AppointmentLookback)
	if p, ok := pos.(syncstate.WindowPosition); ok && !p.From.IsZero() {
		from = p.From
	} else {
		w.first, w.last, w.fromStart = from, from, true
	}
	window := w.cfg.AppointmentWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	end := current.Add(w.cfg.AppointmentHorizon)
	to := from.Add(window)
	if to.After(end) {
		to = end
	}
	if !from.Before(end) {
		return Page{More: boolPtr(false)}, nil
	}

	var items []normalize.Payload
	for _, id := range w.calendars {
		events, err := w.src.ListCalendarEvents(ctx, id, from, to)
		if err != nil {
			return Page{}, err
		}
		for _, ev := range events {
			if ev.StringValue("calendarId") == "" {
				ev["calendarId"] = id
			}
			items = append(items, ev)
		}
	}
	if w.fromStart && to.After(w.last) {
		w.last = to
	}
	if w.logger != nil {
		w.logger.Debug("appointment window fetched",
			zap.Time("from", from),
			zap.Time("to", to),
			zap.Int("calendars", len(w.calendars)),
			zap.Int("events", len(items)),
		)
	}
	return Page{
		Items: items,
		Next:  syncstate.WindowPosition{From: to},
		More:  boolPtr(to.Before(end)),
	}, nil
}

// covered is the start-time range the walk fetched, when it began at the
// lookback. Appointments outside it were never asked for.
func (w *appointmentWalk) covered() (time.Time, time.Time, bool) {
	if !w.fromStart || !w.last.After(w.first) {
		return time.Time{}, time.Time{}, false
	}
	return w.first, w.last, true
}

func transformGHLContact(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	first := item.String("firstName", "first_name")
	last := item.String("lastName", "last_name")
	full := item.String("contactName", "name", "fullName")
	if full == nil {
		full = normalize.JoinName(first, last)
	}
	return models.Contact{
		SyncedBase:  base,
		FirstName:   first,
		LastName:    last,
		FullName:    full,
		Email:       item.Primary([]string{"email"}, []string{"emails", "additionalEmails"}, "email", "value"),
		Phone:       item.Primary([]string{"phone"}, []string{"phones", "additionalPhones"}, "phone", "number", "value"),
		CompanyName: item.String("companyName", "company_name"),
		Source:      item.String("source"),
		Tags:        jsonOrNil(item.JSONAt("tags")),
		AssignedTo:  item.String("assignedTo", "assigned_to"),
	}, nil
}

func transformGHLOpportunity(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.Opportunity{
		SyncedBase:    base,
		Name:          item.String("name", "title"),
		PipelineID:    item.String("pipelineId", "pipeline_id"),
		StageID:       item.String("pipelineStageId", "stageId", "pipeline_stage_id"),
		Status:        item.String("status"),
		MonetaryValue: item.Decimal("monetaryValue", "monetary_value", "value"),
		ContactID:     item.String("contactId", "contact.id", "contact_id"),
		AssignedTo:    item.String("assignedTo", "assigned_to"),
	}, nil
}

func transformGHLAppointment(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.Appointment{
		SyncedBase: base,
		CalendarID: item.String("calendarId", "calendar_id"),
		ContactID:  item.String("contactId", "contact_id", "contact.id"),
		Title:      item.String("title", "name"),
		Status:     item.String("appointmentStatus", "status"),
		StartTime:  item.Time("startTime", "start_time", "start"),
		EndTime:    item.Time("endTime", "end_time", "end"),
	}, nil
}

func transformGHLPipeline(item normalize.Payload, tenantID string, syncedAt time.Time) (models.Record, error) {
	base, err := syncedBase(item, tenantID, syncedAt)
	if err != nil {
		return nil, err
	}
	return models.Pipeline{
		SyncedBase: base,
		Name:       item.String("name"),
		Stages:     jsonOrNil(item.JSONAt("stages")),
	}, nil
}

// syncedBase fills the shared columns. A missing id is ErrMissingID so the
// engine skips the item instead of failing the page.
func syncedBase(item normalize.Payload, tenantID string, syncedAt time.Time) (models.SyncedBase, error) {
	id, err := item.ID()
	if err != nil {
		return models.SyncedBase{}, err
	}
	return models.SyncedBase{
		ID:              id,
		TenantID:        tenantID,
		SourceCreatedAt: item.Time(createdAliases...),
		SourceUpdatedAt: item.Time(updatedAliases...),
		RawData:         item.JSON(),
		SyncedAt:        syncedAt,
	}, nil
}

func jsonOrNil(v datatypes.JSON) datatypes.JSON {
	if len(v) == 0 || !json.Valid(v) {
		return nil
	}
	return v
}

func boolPtr(v bool) *bool {
	return &v
}
