// Package syncstate models the resumable cursor stored per (entity, tenant)
// and decides whether a pass runs full or incremental.
package syncstate

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

type Kind string

const (
	KindNone   Kind = ""
	KindOffset Kind = "offset"
	KindDate   Kind = "date"
	KindWindow Kind = "window"
)

// Position is where the next page starts. Implementations are values.
type Position interface {
	Kind() Kind
	// At is the time component used by refresh-window clamping.
	At() time.Time
	// Clamp moves the position forward to floor when it lies before it.
	Clamp(floor time.Time) Position
	// Compare orders positions of the same kind: -1, 0 or 1.
	Compare(other Position) int
}

// OffsetPosition is a GHL search cursor: the last item's timestamp in epoch
// milliseconds plus its id as tiebreak.
type OffsetPosition struct {
	StartAfter   int64
	StartAfterID string
}

func (OffsetPosition) Kind() Kind { return KindOffset }

func (p OffsetPosition) At() time.Time { return time.UnixMilli(p.StartAfter).UTC() }

func (p OffsetPosition) Clamp(floor time.Time) Position {
	if p.At().Before(floor) {
		return OffsetPosition{StartAfter: floor.UnixMilli()}
	}
	return p
}

func (p OffsetPosition) Compare(other Position) int {
	o, ok := other.(OffsetPosition)
	if !ok {
		return 0
	}
	switch {
	case p.StartAfter < o.StartAfter:
		return -1
	case p.StartAfter > o.StartAfter:
		return 1
	case p.StartAfterID < o.StartAfterID:
		return -1
	case p.StartAfterID > o.StartAfterID:
		return 1
	default:
		return 0
	}
}

// DatePosition is a Teamleader updated_since filter plus the next page number.
// A zero Since means no filter.
type DatePosition struct {
	Since time.Time
	Page  int
}

func (DatePosition) Kind() Kind { return KindDate }

func (p DatePosition) At() time.Time { return p.Since }

func (p DatePosition) Clamp(floor time.Time) Position {
	if p.Since.Before(floor) {
		return DatePosition{Since: floor, Page: 1}
	}
	return p
}

func (p DatePosition) Compare(other Position) int {
	o, ok := other.(DatePosition)
	if !ok {
		return 0
	}
	switch {
	case p.Since.Before(o.Since):
		return -1
	case p.Since.After(o.Since):
		return 1
	case p.Page < o.Page:
		return -1
	case p.Page > o.Page:
		return 1
	default:
		return 0
	}
}

// WindowPosition is the start of the next time window to fetch.
type WindowPosition struct {
	From time.Time
}

func (WindowPosition) Kind() Kind { return KindWindow }

func (p WindowPosition) At() time.Time { return p.From }

func (p WindowPosition) Clamp(floor time.Time) Position {
	if p.From.Before(floor) {
		return WindowPosition{From: floor}
	}
	return p
}

func (p WindowPosition) Compare(other Position) int {
	o, ok := other.(WindowPosition)
	if !ok {
		return 0
	}
	switch {
	case p.From.Before(o.From):
		return -1
	case p.From.After(o.From):
		return 1
	default:
		return 0
	}
}

// Forward returns next unless it lies behind cur.
func Forward(cur, next Position) Position {
	if next == nil {
		return cur
	}
	if cur == nil || cur.Kind() != next.Kind() {
		return next
	}
	if next.Compare(cur) < 0 {
		return cur
	}
	return next
}

type Cursor struct {
	Position       Position
	LastFullSyncAt *time.Time
}

type wireCursor struct {
	Kind           Kind       `json:"kind,omitempty"`
	StartAfter     *int64     `json:"startAfter,omitempty"`
	StartAfterID   string     `json:"startAfterId,omitempty"`
	Since          *time.Time `json:"since,omitempty"`
	Page           int        `json:"page,omitempty"`
	From           *time.Time `json:"from,omitempty"`
	LastFullSyncAt *time.Time `json:"lastFullSyncAt,omitempty"`
}

// Encode renders the cursor as one flat JSON object tagged by kind.
func (c Cursor) Encode() ([]byte, error) {
	w := wireCursor{LastFullSyncAt: c.LastFullSyncAt}
	switch p := c.Position.(type) {
	case nil:
	case OffsetPosition:
		w.Kind = KindOffset
		v := p.StartAfter
		w.StartAfter = &v
		w.StartAfterID = p.StartAfterID
	case DatePosition:
		w.Kind = KindDate
		if !p.Since.IsZero() {
			since := p.Since.UTC()
			w.Since = &since
		}
		w.Page = p.Page
	case WindowPosition:
		w.Kind = KindWindow
		from := p.From.UTC()
		w.From = &from
	default:
		return nil, fmt.Errorf("syncstate: unsupported position %T", c.Position)
	}
	return json.Marshal(w)
}

// Decode parses a stored cursor for an entity whose positions are of kind
// want. A stored position of another kind is dropped and reported through
// mismatched, so the caller restarts from scratch instead of misreading it.
func Decode(raw []byte, want Kind) (c Cursor, mismatched bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Cursor{}, false, nil
	}
	var w wireCursor
	if err := json.Unmarshal(raw, &w); err != nil {
		return Cursor{}, false, fmt.Errorf("syncstate: decode cursor: %w", err)
	}
	c.LastFullSyncAt = w.LastFullSyncAt

	kind := w.Kind
	if kind == KindNone && w.StartAfter != nil {
		// Cursors written before positions were tagged.
		kind = KindOffset
	}
	if kind == KindNone {
		return c, false, nil
	}
	if want == KindNone || kind != want {
		return c, true, nil
	}
	switch kind {
	case KindOffset:
		var at int64
		if w.StartAfter != nil {
			at = *w.StartAfter
		}
		c.Position = OffsetPosition{StartAfter: at, StartAfterID: w.StartAfterID}
	case KindDate:
		p := DatePosition{Page: w.Page}
		if w.Since != nil {
			p.Since = w.Since.UTC()
		}
		if p.Page < 1 {
			p.Page = 1
		}
		c.Position = p
	case KindWindow:
		if w.From != nil {
			c.Position = WindowPosition{From: w.From.UTC()}
		}
	default:
		return c, true, nil
	}
	return c, false, nil
}
