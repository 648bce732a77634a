package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/signalhound/signalhound/internal/metrics"
)

// DefaultBufferSize is the per-subscriber pending-event bound. A subscriber
// that falls further behind is disconnected: freshness over completeness.
const DefaultBufferSize = 256

// Subscriber is one hub consumer. The hub writes marshalled events to Out;
// the owning transport drains it.
type Subscriber struct {
	Out    chan []byte
	hub    *Hub
	mu     sync.RWMutex
	filter Filter
	paused bool
}

// SetFilter replaces the subscriber's filter and resumes delivery if the
// subscriber was paused.
func (s *Subscriber) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.paused = false
	s.mu.Unlock()
}

// Pause halts delivery without dropping the connection. The next SetFilter
// resumes it.
func (s *Subscriber) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *Subscriber) accepts(e Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.paused && s.filter.Accepts(e)
}

// Close unregisters the subscriber from its hub.
func (s *Subscriber) Close() {
	s.hub.unsubscribe(s)
}

// Hub fans events out to live subscribers and the webhook sender.
type Hub struct {
	broadcast  chan Event
	register   chan *Subscriber
	unregister chan *Subscriber

	subscribers map[*Subscriber]bool
	mu          sync.RWMutex

	// done is closed when Run exits so Subscribe and Close never block on
	// a loop that is no longer draining register/unregister.
	done chan struct{}

	webhook    *WebhookSender
	bufferSize int
	heartbeat  time.Duration
}

// NewHub creates a hub. webhook may be nil when no URL is configured.
func NewHub(bufferSize int, heartbeat time.Duration, webhook *WebhookSender) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		broadcast:   make(chan Event, bufferSize),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		subscribers: make(map[*Subscriber]bool),
		done:        make(chan struct{}),
		webhook:     webhook,
		bufferSize:  bufferSize,
		heartbeat:   heartbeat,
	}
}

// Run is the hub's main loop. It exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for sub := range h.subscribers {
				close(sub.Out)
				delete(h.subscribers, sub)
			}
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			total := len(h.subscribers)
			h.mu.Unlock()
			log.Info().Int("total_subscribers", total).Msg("Subscriber connected")

		case sub := <-h.unregister:
			h.remove(sub)

		case event := <-h.broadcast:
			h.deliver(event)

		case <-ticker.C:
			h.deliver(Event{Type: EventHeartbeat, Timestamp: time.Now()})
		}
	}
}

// Publish queues an event for delivery to subscribers and the webhook.
// Persistence of the entity must already have happened.
func (h *Hub) Publish(event Event) {
	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()

	select {
	case h.broadcast <- event:
	default:
		log.Warn().Str("type", string(event.Type)).Msg("Fan-out channel full, event dropped")
	}

	if h.webhook != nil && event.Type != EventHeartbeat {
		h.webhook.Send(event)
	}
}

// Subscribe registers a new subscriber with an initial filter.
func (h *Hub) Subscribe(filter Filter) *Subscriber {
	sub := &Subscriber{
		Out:    make(chan []byte, h.bufferSize),
		hub:    h,
		filter: filter,
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.Out)
	}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.Out)
		log.Info().Int("total_subscribers", len(h.subscribers)).Msg("Subscriber disconnected")
	}
}

// deliver pushes one event to every subscriber whose filter accepts it.
// Subscribers with a full queue are dropped.
func (h *Hub) deliver(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if !sub.accepts(event) {
			continue
		}
		select {
		case sub.Out <- payload:
		default:
			delete(h.subscribers, sub)
			close(sub.Out)
			log.Warn().Msg("Slow subscriber disconnected")
		}
	}
}
