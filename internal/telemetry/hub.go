package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ispctl/internal/metrics"
	"ispctl/internal/model"
)

// Hub holds the single current telemetry snapshot and fans each new one out
// to subscribers. Publishing never blocks on a slow subscriber.
type Hub struct {
	log     *zap.Logger
	metrics *metrics.Collectors

	mu      sync.RWMutex
	current model.TelemetrySnapshot
	has     bool
	subs    map[*Subscription]struct{}
}

// NewHub returns an empty hub. log and m may be nil.
func NewHub(log *zap.Logger, m *metrics.Collectors) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, metrics: m, subs: make(map[*Subscription]struct{})}
}

// Publish replaces the current snapshot and notifies subscribers.
// Concurrent publishes are last-write-wins.
func (h *Hub) Publish(s model.TelemetrySnapshot) {
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = time.Now().UTC()
	}
	if s.Queues == nil {
		s.Queues = map[string]model.QueueUsage{}
	}

	h.mu.Lock()
	h.current = s
	h.has = true
	for sub := range h.subs {
		sub.offer(s)
	}
	h.mu.Unlock()

	h.metrics.TelemetryPublished()
}

// Current returns the latest snapshot and whether one was ever published.
func (h *Hub) Current() (model.TelemetrySnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current, h.has
}

// Subscribe registers a subscriber for snapshots published from now on.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{hub: h, ch: make(chan model.TelemetrySnapshot, 1)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SubscriberAdded(1)
	h.log.Debug("telemetry subscriber added", zap.Int("subscribers", n))
	return sub
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscription is a one-slot mailbox: a newer snapshot replaces an unread one.
type Subscription struct {
	hub    *Hub
	ch     chan model.TelemetrySnapshot
	closed bool
}

// C delivers snapshots. It is closed by Close.
func (s *Subscription) C() <-chan model.TelemetrySnapshot { return s.ch }

// offer is called with the hub lock held.
func (s *Subscription) offer(snap model.TelemetrySnapshot) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	if s.closed {
		h.mu.Unlock()
		return
	}
	s.closed = true
	delete(h.subs, s)
	close(s.ch)
	h.mu.Unlock()

	h.metrics.SubscriberAdded(-1)
}

// Decode parses a telemetry payload. A payload must be a JSON object with a
// queues object; system is optional.
func Decode(data []byte) (model.TelemetrySnapshot, error) {
	var raw struct {
		Queues map[string]model.QueueUsage `json:"queues"`
		System map[string]any              `json:"system"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("%w: telemetry payload: %v", model.ErrValidation, err)
	}
	if raw.Queues == nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("%w: telemetry payload: queues is required", model.ErrValidation)
	}
	if raw.System == nil {
		raw.System = map[string]any{}
	}
	return model.TelemetrySnapshot{Queues: raw.Queues, System: raw.System}, nil
}
