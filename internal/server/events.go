// ABOUTME: Websocket fan-out of committed ledger events
// ABOUTME: Subscribers are best-effort; slow connections are dropped

package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nainya/custodyledger/internal/logger"
	"github.com/nainya/custodyledger/internal/metrics"
	"github.com/nainya/custodyledger/pkg/ledger"
)

const (
	eventBufferSize = 64
	writeTimeout    = 5 * time.Second
)

// EventHub broadcasts committed ledger events to websocket subscribers. It
// implements ledger.Notifier; Publish is called by the engine exactly when a
// state-changing transaction commits.
type EventHub struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan ledger.Event
	log     *logger.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
}

// NewEventHub creates an event hub.
func NewEventHub(log *logger.Logger, m *metrics.Metrics) *EventHub {
	return &EventHub{
		subs:    make(map[int]chan ledger.Event),
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Subscribers are trusted off-ledger services; auth lives in
			// front of this surface.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Publish fans the event out to every subscriber. A subscriber whose buffer
// is full misses the event rather than blocking the commit path.
func (h *EventHub) Publish(ev ledger.Event) {
	if h.metrics != nil {
		h.metrics.RecordEvent(ev.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Warn("event subscriber lagging, dropping event").
				Int("subscriber", id).
				Str("event", ev.Name).
				Send()
		}
	}
}

func (h *EventHub) subscribe() (int, chan ledger.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan ledger.Event, eventBufferSize)
	h.subs[id] = ch
	if h.metrics != nil {
		h.metrics.EventSubscribers.Set(float64(len(h.subs)))
	}
	return id, ch
}

func (h *EventHub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	if h.metrics != nil {
		h.metrics.EventSubscribers.Set(float64(len(h.subs)))
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed").Err(err).Send()
		return
	}

	id, ch := h.subscribe()
	h.log.Info("event subscriber connected").Int("subscriber", id).Send()

	defer func() {
		h.unsubscribe(id)
		conn.Close()
		h.log.Info("event subscriber disconnected").Int("subscriber", id).Send()
	}()

	// Reader goroutine: only watches for close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
