// Package events fans sync run progress out to live subscribers.
package events

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"dashsync/internal/metrics"
)

const (
	TypeRunStarted    = "run_started"
	TypeEntityStarted = "entity_started"
	TypeEntityPage    = "entity_page"
	TypeEntityDone    = "entity_done"
	TypeTenantSkipped = "tenant_skipped"
	TypeRunFinished   = "run_finished"
)

type Event struct {
	Type     string    `json:"type"`
	RunID    string    `json:"run_id"`
	TenantID string    `json:"tenant_id,omitempty"`
	Entity   string    `json:"entity,omitempty"`
	Status   string    `json:"status,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	Pages    int       `json:"pages,omitempty"`
	Records  int       `json:"records,omitempty"`
	Pruned   int64     `json:"pruned,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Hub never blocks a publisher: events for a full subscriber are dropped.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int

	dropped uint64
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: map[int]chan Event{}, logger: logger}
}

func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			atomic.AddUint64(&h.dropped, 1)
			metrics.EventsDropped.Inc()
		}
	}
}

// Subscribe returns a buffered channel and a cancel func that closes it.
func (h *Hub) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan Event, buf)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeWS streams events to a websocket client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := conn.CloseRead(r.Context())
	events, cancel := h.Subscribe(0)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
