package syncstate

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCursorRoundTripPerKind(t *testing.T) {
	full := t0.Add(-time.Hour)
	cases := []Position{
		OffsetPosition{StartAfter: t0.UnixMilli(), StartAfterID: "c9"},
		DatePosition{Since: t0, Page: 3},
		WindowPosition{From: t0},
	}
	for _, pos := range cases {
		raw, err := Cursor{Position: pos, LastFullSyncAt: &full}.Encode()
		if err != nil {
			t.Fatalf("encode %T err=%v", pos, err)
		}
		got, mismatched, err := Decode(raw, pos.Kind())
		if err != nil || mismatched {
			t.Fatalf("decode %s err=%v mismatched=%v", raw, err, mismatched)
		}
		if got.Position == nil || got.Position.Compare(pos) != 0 {
			t.Fatalf("position=%#v want=%#v", got.Position, pos)
		}
		if got.LastFullSyncAt == nil || !got.LastFullSyncAt.Equal(full) {
			t.Fatalf("lastFull=%v want=%v", got.LastFullSyncAt, full)
		}
	}
}

func TestDecodeKindMismatchDropsPosition(t *testing.T) {
	raw, _ := Cursor{Position: DatePosition{Since: t0, Page: 2}}.Encode()
	got, mismatched, err := Decode(raw, KindOffset)
	if err != nil || !mismatched || got.Position != nil {
		t.Fatalf("got=%+v mismatched=%v err=%v", got, mismatched, err)
	}
}

func TestDecodeUntaggedOffset(t *testing.T) {
	got, mismatched, err := Decode([]byte(`{"startAfter":1700000000000,"startAfterId":"a"}`), KindOffset)
	if err != nil || mismatched {
		t.Fatalf("err=%v mismatched=%v", err, mismatched)
	}
	p, ok := got.Position.(OffsetPosition)
	if !ok || p.StartAfter != 1700000000000 || p.StartAfterID != "a" {
		t.Fatalf("position=%#v", got.Position)
	}
}

func TestDecodeEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		got, mismatched, err := Decode([]byte(raw), KindOffset)
		if err != nil || mismatched || got.Position != nil || got.LastFullSyncAt != nil {
			t.Fatalf("raw=%q got=%+v", raw, got)
		}
	}
}

func TestForwardNeverMovesBackwards(t *testing.T) {
	cur := OffsetPosition{StartAfter: 200, StartAfterID: "b"}
	if got := Forward(cur, OffsetPosition{StartAfter: 100, StartAfterID: "z"}); got != cur {
		t.Fatalf("got=%v want=%v", got, cur)
	}
	next := OffsetPosition{StartAfter: 200, StartAfterID: "c"}
	if got := Forward(cur, next); got != next {
		t.Fatalf("got=%v want=%v", got, next)
	}
	if got := Forward(nil, next); got != next {
		t.Fatalf("got=%v want=%v", got, next)
	}
	if got := Forward(cur, nil); got != cur {
		t.Fatalf("got=%v want=%v", got, cur)
	}
}

func TestIsFullSync(t *testing.T) {
	recent := t0.Add(-time.Hour)
	old := t0.Add(-48 * time.Hour)
	cases := []struct {
		name     string
		force    bool
		hasState bool
		lastFull *time.Time
		interval time.Duration
		want     bool
	}{
		{"forced", true, true, &recent, 24 * time.Hour, true},
		{"no state", false, false, nil, 24 * time.Hour, true},
		{"interval elapsed", false, true, &old, 24 * time.Hour, true},
		{"interval not elapsed", false, true, &recent, 24 * time.Hour, false},
		{"never full with interval", false, true, nil, 24 * time.Hour, true},
		{"interval disabled", false, true, nil, 0, false},
	}
	for _, tc := range cases {
		if got := IsFullSync(tc.force, tc.hasState, tc.lastFull, tc.interval, t0); got != tc.want {
			t.Fatalf("%s: got=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestClampRefreshWindow(t *testing.T) {
	window := 2 * time.Hour
	floor := t0.Add(-window)

	old := OffsetPosition{StartAfter: t0.Add(-5 * time.Hour).UnixMilli(), StartAfterID: "x"}
	got := Clamp(old, window, t0).(OffsetPosition)
	if got.StartAfter != floor.UnixMilli() || got.StartAfterID != "" {
		t.Fatalf("clamped=%#v want startAfter=%d", got, floor.UnixMilli())
	}

	fresh := DatePosition{Since: t0.Add(-time.Hour), Page: 4}
	if got := Clamp(fresh, window, t0); got != Position(fresh) {
		t.Fatalf("fresh position moved: %#v", got)
	}
	if got := Clamp(old, 0, t0); got != Position(old) {
		t.Fatalf("zero window moved position: %#v", got)
	}
}

func TestDecideIncrementalKeepsPosition(t *testing.T) {
	recent := t0.Add(-time.Hour)
	pos := DatePosition{Since: t0.Add(-30 * time.Minute), Page: 1}
	plan := Decide(false, true, Cursor{Position: pos, LastFullSyncAt: &recent}, 24*time.Hour, 0, t0)
	if plan.Full || plan.Position != Position(pos) {
		t.Fatalf("plan=%+v", plan)
	}
	plan = Decide(true, true, Cursor{Position: pos, LastFullSyncAt: &recent}, 24*time.Hour, 0, t0)
	if !plan.Full || plan.Position != nil {
		t.Fatalf("forced plan=%+v", plan)
	}
}
