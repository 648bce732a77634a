// Package fanout delivers signal and trade events to WebSocket subscribers
// and an optional external webhook. A single producer publishes to the hub;
// each subscriber drains its own bounded queue so a slow consumer never
// blocks the rest.
package fanout

import (
	"encoding/json"
	"time"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/market"
)

// EventType identifies a fan-out event.
type EventType string

const (
	EventSignalCreated EventType = "signal_created"
	EventSignalUpdated EventType = "signal_updated"
	EventSignalClosed  EventType = "signal_closed"
	EventTradeOpened   EventType = "trade_opened"
	EventTradeClosed   EventType = "trade_closed"
	EventHeartbeat     EventType = "ping"
)

// Event is one delivery unit. The filterable attributes are lifted out of
// the payload so the hub does not re-parse JSON per subscriber.
type Event struct {
	Type       EventType        `json:"type"`
	Timestamp  time.Time        `json:"timestamp"`
	Symbol     string           `json:"symbol,omitempty"`
	Market     market.Kind      `json:"market,omitempty"`
	Direction  market.Direction `json:"direction,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Data       json.RawMessage  `json:"data,omitempty"`
}

// SignalEvent wraps a signal entity as an event.
func SignalEvent(eventType EventType, sig *db.Signal) (Event, error) {
	data, err := json.Marshal(sig)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:       eventType,
		Timestamp:  time.Now(),
		Symbol:     sig.Symbol,
		Market:     sig.Market,
		Direction:  sig.Direction,
		Confidence: sig.Confidence,
		Data:       data,
	}, nil
}

// TradeEvent wraps a paper trade entity as an event.
func TradeEvent(eventType EventType, trade *db.PaperTrade) (Event, error) {
	data, err := json.Marshal(trade)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Symbol:    trade.Symbol,
		Market:    trade.Market,
		Direction: trade.Direction,
		Data:      data,
	}, nil
}

// Filter is a subscriber's event filter. Zero-value fields accept anything.
type Filter struct {
	Markets       []market.Kind      `json:"markets,omitempty"`
	Directions    []market.Direction `json:"directions,omitempty"`
	Symbols       []string           `json:"symbols,omitempty"`
	MinConfidence float64            `json:"min_confidence,omitempty"`
}

// Accepts reports whether the filter lets an event through. Heartbeats
// always pass.
func (f Filter) Accepts(e Event) bool {
	if e.Type == EventHeartbeat {
		return true
	}
	if len(f.Markets) > 0 && !containsKind(f.Markets, e.Market) {
		return false
	}
	if len(f.Directions) > 0 && !containsDirection(f.Directions, e.Direction) {
		return false
	}
	if len(f.Symbols) > 0 && !containsString(f.Symbols, e.Symbol) {
		return false
	}
	// Confidence gating only applies to signal events; trade events carry
	// no confidence of their own.
	if f.MinConfidence > 0 && e.Confidence > 0 && e.Confidence < f.MinConfidence {
		return false
	}
	return true
}

func containsKind(list []market.Kind, v market.Kind) bool {
	for _, m := range list {
		if m == v {
			return true
		}
	}
	return false
}

func containsDirection(list []market.Direction, v market.Direction) bool {
	for _, d := range list {
		if d == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
