package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"dashsync/internal/client/ghl"
	"dashsync/internal/config"
	"dashsync/internal/models"
	"dashsync/internal/normalize"
	"dashsync/internal/repository/memory"
	"dashsync/internal/syncstate"
)

type fakeGHL struct {
	contactPages []*ghl.Page
	contactCalls []ghl.SearchParams
	// repeat serves the last contact page forever.
	repeat bool

	calendars     []normalize.Payload
	calendarCalls int
	events        map[string][]normalize.Payload
	windows       [][2]time.Time
}

func (f *fakeGHL) ListContacts(ctx context.Context, p ghl.SearchParams) (*ghl.Page, error) {
	_ = ctx
	i := len(f.contactCalls)
	f.contactCalls = append(f.contactCalls, p)
	if i >= len(f.contactPages) {
		if f.repeat && len(f.contactPages) > 0 {
			return f.contactPages[len(f.contactPages)-1], nil
		}
		return &ghl.Page{}, nil
	}
	return f.contactPages[i], nil
}

func (f *fakeGHL) SearchOpportunities(ctx context.Context, p ghl.SearchParams) (*ghl.Page, error) {
	return &ghl.Page{}, nil
}

func (f *fakeGHL) ListPipelines(ctx context.Context) ([]normalize.Payload, error) {
	return nil, nil
}

func (f *fakeGHL) ListCalendars(ctx context.Context) ([]normalize.Payload, error) {
	f.calendarCalls++
	return f.calendars, nil
}

func (f *fakeGHL) ListCalendarEvents(ctx context.Context, calendarID string, from, to time.Time) ([]normalize.Payload, error) {
	f.windows = append(f.windows, [2]time.Time{from, to})
	var out []normalize.Payload
	for _, ev := range f.events[calendarID] {
		at := ev.Time("startTime")
		if at == nil || at.Before(from) || !at.Before(to) {
			continue
		}
		cp := normalize.Payload{}
		for k, v := range ev {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out, nil
}

func event(id string, start time.Time) normalize.Payload {
	return normalize.Payload{"id": id, "title": "call " + id, "startTime": start.Format(time.RFC3339)}
}

func ghlConfig() config.GHLConfig {
	return config.GHLConfig{
		PageSize:            2,
		AppointmentLookback: 60 * 24 * time.Hour,
		AppointmentWindow:   30 * 24 * time.Hour,
		AppointmentHorizon:  15 * 24 * time.Hour,
	}
}

func ghlSpec(t *testing.T, src GHLSource, now *time.Time, entity string) Spec {
	t.Helper()
	specs := GHLSpecs(src, ghlConfig(), nil, func() time.Time { return *now })
	for _, s := range specs {
		if s.Entity == entity {
			return s
		}
	}
	t.Fatalf("no spec for %s", entity)
	return Spec{}
}

func TestOffsetFetcherPrefersResponseMeta(t *testing.T) {
	meta := int64(9000)
	src := &fakeGHL{contactPages: []*ghl.Page{{
		Items:        []normalize.Payload{{"id": "a", "dateAdded": "2024-01-01T00:00:00Z"}, {"id": "b", "dateAdded": "2024-01-02T00:00:00Z"}},
		StartAfter:   &meta,
		StartAfterID: "m",
	}}}
	fetch := offsetFetcher(src.ListContacts)
	page, err := fetch(context.Background(), syncstate.OffsetPosition{StartAfter: 100, StartAfterID: "x"}, 2)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := syncstate.OffsetPosition{StartAfter: 9000, StartAfterID: "m"}
	if page.Next != want {
		t.Fatalf("next=%v want=%v", page.Next, want)
	}
	got := src.contactCalls[0]
	if got.Limit != 2 || got.StartAfter != 100 || got.StartAfterID != "x" {
		t.Fatalf("params=%+v", got)
	}
}

func TestOffsetFetcherFallsBackToLastItem(t *testing.T) {
	zero := int64(0)
	src := &fakeGHL{contactPages: []*ghl.Page{{
		Items:      []normalize.Payload{{"id": "a", "dateAdded": "2024-01-01T00:00:00Z"}, {"id": "b", "dateAdded": "2024-01-02T00:00:00Z"}},
		StartAfter: &zero,
	}}}
	page, err := offsetFetcher(src.ListContacts)(context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := syncstate.OffsetPosition{StartAfter: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli(), StartAfterID: "b"}
	if page.Next != want {
		t.Fatalf("next=%v want=%v", page.Next, want)
	}
	if src.contactCalls[0].StartAfter != 0 || src.contactCalls[0].StartAfterID != "" {
		t.Fatalf("first call params=%+v", src.contactCalls[0])
	}
}

func TestContactsWithoutCursorFailInsteadOfLooping(t *testing.T) {
	src := &fakeGHL{
		contactPages: []*ghl.Page{{Items: []normalize.Payload{{"id": "a"}, {"id": "b"}}}},
		repeat:       true,
	}
	now := t0
	store := memory.New()
	_, err := engineAt(store, &now).Run(context.Background(), ghlSpec(t, src, &now, models.EntityContacts), Options{TenantID: "t1", Settings: settings()})
	if !errors.Is(err, ErrCursorStalled) || StageOf(err) != StageFetch {
		t.Fatalf("err=%v stage=%s", err, StageOf(err))
	}
	if len(src.contactCalls) != 1 {
		t.Fatalf("calls=%d want=1", len(src.contactCalls))
	}
}

func TestAppointmentWalkEndsAtHorizon(t *testing.T) {
	src := &fakeGHL{
		calendars: []normalize.Payload{{"id": "cal1"}, {"name": "no id"}},
		events: map[string][]normalize.Payload{"cal1": {
			event("early", t0.Add(-50*24*time.Hour)),
			event("soon", t0.Add(24*time.Hour)),
			event("beyond", t0.Add(40*24*time.Hour)),
		}},
	}
	now := t0
	store := memory.New()
	res, err := engineAt(store, &now).Run(context.Background(), ghlSpec(t, src, &now, models.EntityAppointments), Options{TenantID: "t1", Settings: settings()})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !res.Done || res.Pages != 3 || res.Records != 2 {
		t.Fatalf("res=%+v", res)
	}
	if src.calendarCalls != 1 || len(src.windows) != 3 {
		t.Fatalf("calendars=%d windows=%v", src.calendarCalls, src.windows)
	}
	day := 24 * time.Hour
	want := [][2]time.Time{
		{t0.Add(-60 * day), t0.Add(-30 * day)},
		{t0.Add(-30 * day), t0},
		{t0, t0.Add(15 * day)},
	}
	for i, w := range want {
		if !src.windows[i][0].Equal(w[0]) || !src.windows[i][1].Equal(w[1]) {
			t.Fatalf("window %d=%v want=%v", i, src.windows[i], w)
		}
	}
	rows := store.Records(models.EntityAppointments, "t1")
	appt, ok := rows[0].(models.Appointment)
	if !ok || appt.CalendarID == nil || *appt.CalendarID != "cal1" {
		t.Fatalf("row=%+v", rows[0])
	}
}

func TestAppointmentWindowStopsWithoutMore(t *testing.T) {
	src := &fakeGHL{calendars: []normalize.Payload{{"id": "cal1"}}}
	now := t0
	spec := ghlSpec(t, src, &now, models.EntityAppointments)
	page, err := spec.Fetch(context.Background(), syncstate.WindowPosition{From: t0.Add(10 * 24 * time.Hour)}, 2)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if page.More == nil || *page.More {
		t.Fatalf("more=%v want=false", page.More)
	}
	end := t0.Add(15 * 24 * time.Hour)
	if next, ok := page.Next.(syncstate.WindowPosition); !ok || !next.From.Equal(end) {
		t.Fatalf("next=%v want from=%v", page.Next, end)
	}
	page, err = spec.Fetch(context.Background(), syncstate.WindowPosition{From: end}, 2)
	if err != nil || page.More == nil || *page.More || len(page.Items) != 0 {
		t.Fatalf("page=%+v err=%v", page, err)
	}
	if _, _, ok := spec.PruneRange(); ok {
		t.Fatalf("walk that did not start at the lookback reported a prune range")
	}
}

func TestFullAppointmentPassKeepsRowsOutsideLookback(t *testing.T) {
	old := t0.Add(-400 * 24 * time.Hour)
	gone := t0.Add(-10 * 24 * time.Hour)
	live := t0.Add(-5 * 24 * time.Hour)
	src := &fakeGHL{
		calendars: []normalize.Payload{{"id": "cal1"}},
		events: map[string][]normalize.Payload{"cal1": {
			event("old", old),
			event("live", live),
		}},
	}
	store := memory.New()
	seeded := t0.Add(-time.Hour)
	seed := func(id string, start time.Time) models.Record {
		return models.Appointment{SyncedBase: models.SyncedBase{ID: id, TenantID: "t1", SyncedAt: seeded}, StartTime: &start}
	}
	if err := store.UpsertRecords(context.Background(), models.EntityAppointments, []models.Record{
		seed("old", old), seed("gone", gone), seed("live", live),
	}, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := t0
	res, err := engineAt(store, &now).Run(context.Background(), ghlSpec(t, src, &now, models.EntityAppointments), Options{TenantID: "t1", Force: true, Settings: settings()})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Pruned != 1 {
		t.Fatalf("pruned=%d want=1", res.Pruned)
	}
	rows := store.Records(models.EntityAppointments, "t1")
	if len(rows) != 2 || rows[0].Base().ID != "live" || rows[1].Base().ID != "old" {
		t.Fatalf("rows=%v", rows)
	}
}

func TestGHLContactPicksPrimaryValues(t *testing.T) {
	item := normalize.Payload{
		"id":        "c1",
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"emails": []any{
			map[string]any{"email": "work@example.com"},
			map[string]any{"email": "main@example.com", "primary": true},
		},
		"phones": []any{"", "+3212345678", "+3287654321"},
	}
	rec, err := transformGHLContact(item, "t1", t0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	c := rec.(models.Contact)
	if c.Email == nil || *c.Email != "main@example.com" {
		t.Fatalf("email=%v want=main@example.com", c.Email)
	}
	if c.Phone == nil || *c.Phone != "+3212345678" {
		t.Fatalf("phone=%v want=+3212345678", c.Phone)
	}
	if c.FullName == nil || *c.FullName != "Ada Lovelace" {
		t.Fatalf("full=%v", c.FullName)
	}

	item["email"] = "direct@example.com"
	rec, _ = transformGHLContact(item, "t1", t0)
	if got := rec.(models.Contact).Email; got == nil || *got != "direct@example.com" {
		t.Fatalf("email=%v want=direct@example.com", got)
	}

	if _, err := transformGHLContact(normalize.Payload{"firstName": "nobody"}, "t1", t0); !errors.Is(err, normalize.ErrMissingID) {
		t.Fatalf("err=%v want=ErrMissingID", err)
	}
}
