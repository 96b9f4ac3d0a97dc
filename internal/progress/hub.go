package progress

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

const DefaultBuffer = 64

type subscription struct {
	id uint64
	ch chan models.Event
}

// Hub delivers session events to at most one observer per session. Delivery
// is best effort: Publish never blocks, and events nobody can take right now
// are dropped.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]*subscription
	nextID  uint64
	buffer  int
	logger  *logrus.Logger
	metrics *utils.MetricsCollector
}

func NewHub(buffer int, logger *logrus.Logger, metrics *utils.MetricsCollector) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:    make(map[string]*subscription),
		buffer:  buffer,
		logger:  logger,
		metrics: metrics,
	}
}

// Publish hands ev to the session's observer and reports whether it was
// accepted.
func (h *Hub) Publish(sessionID string, ev models.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[sessionID]
	if !ok {
		h.dropped(ev)
		return false
	}
	select {
	case sub.ch <- ev:
		return true
	default:
		h.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"type":       ev.Type,
		}).Debug("Observer buffer full, dropping event")
		h.dropped(ev)
		return false
	}
}

// Subscribe registers the observer for a session, replacing and closing any
// previous one. The first event received is always "connected". The returned
// func removes this registration only.
func (h *Hub) Subscribe(sessionID string) (<-chan models.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.subs[sessionID]; ok {
		close(old.ch)
		h.logger.WithField("session_id", sessionID).Debug("Replacing session observer")
	}
	h.nextID++
	sub := &subscription{id: h.nextID, ch: make(chan models.Event, h.buffer)}
	h.subs[sessionID] = sub
	h.observed()
	sub.ch <- models.NewConnectedEvent(sessionID)

	return sub.ch, func() { h.unsubscribe(sessionID, sub.id) }
}

func (h *Hub) unsubscribe(sessionID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.subs[sessionID]; ok && cur.id == id {
		delete(h.subs, sessionID)
		close(cur.ch)
		h.observed()
	}
}

// Close ends the session's stream. Buffered events are still readable.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[sessionID]; ok {
		delete(h.subs, sessionID)
		close(sub.ch)
		h.observed()
	}
}

func (h *Hub) HasSubscriber(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.subs[sessionID]
	return ok
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) dropped(ev models.Event) {
	h.metrics.IncCounter(utils.MetricEventsDropped, 1, prometheus.Labels{"type": string(ev.Type)})
}

// observed publishes the subscriber count. Callers hold h.mu.
func (h *Hub) observed() {
	h.metrics.SetGauge(utils.MetricSubscribers, float64(len(h.subs)), nil)
}
