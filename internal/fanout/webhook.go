package fanout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// WebhookSender POSTs events to an external URL. Delivery is best effort
// and asynchronous: failures are logged, never propagated to the broadcast
// path. A circuit breaker stops hammering a dead endpoint.
type WebhookSender struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	queue   chan Event
}

// NewWebhookSender creates a sender for the configured URL. Returns nil
// when the URL is empty.
func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "webhook",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Webhook circuit breaker state change")
		},
	}

	return &WebhookSender{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		queue:   make(chan Event, DefaultBufferSize),
	}
}

// Run drains the delivery queue until it is closed.
func (w *WebhookSender) Run() {
	for event := range w.queue {
		if err := w.post(event); err != nil {
			log.Warn().Err(err).Str("type", string(event.Type)).Msg("Webhook delivery failed")
		}
	}
}

// Close stops the delivery loop after the queue drains.
func (w *WebhookSender) Close() {
	close(w.queue)
}

// Send queues an event for delivery. Drops when the queue is full.
func (w *WebhookSender) Send(event Event) {
	select {
	case w.queue <- event:
	default:
		log.Warn().Str("type", string(event.Type)).Msg("Webhook queue full, event dropped")
	}
}

func (w *WebhookSender) post(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = w.breaker.Execute(func() (any, error) {
		resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
