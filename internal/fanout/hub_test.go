package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/market"
)

func testSignal() *db.Signal {
	return &db.Signal{
		Symbol:     "BTCUSDT",
		Market:     market.Futures,
		Direction:  market.Long,
		Timeframe:  market.TF4h,
		Entry:      decimal.NewFromInt(50000),
		StopLoss:   decimal.NewFromInt(49000),
		TakeProfit: decimal.NewFromInt(53000),
		Confidence: 0.85,
		Status:     db.SignalActive,
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(8, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func recvEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case payload := <-sub.Out:
		var e Event
		require.NoError(t, json.Unmarshal(payload, &e))
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubDeliversToMatchingSubscriber(t *testing.T) {
	hub := startHub(t)
	sub := hub.Subscribe(Filter{Markets: []market.Kind{market.Futures}})
	defer sub.Close()

	event, err := SignalEvent(EventSignalCreated, testSignal())
	require.NoError(t, err)
	hub.Publish(event)

	got := recvEvent(t, sub)
	assert.Equal(t, EventSignalCreated, got.Type)
	assert.Equal(t, "BTCUSDT", got.Symbol)

	var sig db.Signal
	require.NoError(t, json.Unmarshal(got.Data, &sig))
	assert.True(t, sig.Entry.Equal(decimal.NewFromInt(50000)))
}

func TestHubFiltersMismatchedEvents(t *testing.T) {
	hub := startHub(t)
	spotOnly := hub.Subscribe(Filter{Markets: []market.Kind{market.Spot}})
	defer spotOnly.Close()
	highConf := hub.Subscribe(Filter{MinConfidence: 0.95})
	defer highConf.Close()
	all := hub.Subscribe(Filter{})
	defer all.Close()

	event, err := SignalEvent(EventSignalCreated, testSignal())
	require.NoError(t, err)
	hub.Publish(event)

	recvEvent(t, all)
	select {
	case <-spotOnly.Out:
		t.Fatal("spot-only subscriber received a futures event")
	case <-highConf.Out:
		t.Fatal("high-confidence subscriber received a 0.85 event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubSymbolAndDirectionFilter(t *testing.T) {
	f := Filter{
		Symbols:    []string{"ETHUSDT"},
		Directions: []market.Direction{market.Short},
	}

	event, err := SignalEvent(EventSignalCreated, testSignal())
	require.NoError(t, err)
	assert.False(t, f.Accepts(event))

	sig := testSignal()
	sig.Symbol = "ETHUSDT"
	sig.Direction = market.Short
	event, err = SignalEvent(EventSignalCreated, sig)
	require.NoError(t, err)
	assert.True(t, f.Accepts(event))
}

func TestFilterHeartbeatAlwaysPasses(t *testing.T) {
	f := Filter{Markets: []market.Kind{market.Spot}, MinConfidence: 0.99}
	assert.True(t, f.Accepts(Event{Type: EventHeartbeat}))
}

func TestFilterTradeEventsIgnoreConfidenceGate(t *testing.T) {
	f := Filter{MinConfidence: 0.9}
	trade := &db.PaperTrade{Symbol: "BTCUSDT", Market: market.Spot, Direction: market.Long}
	event, err := TradeEvent(EventTradeClosed, trade)
	require.NoError(t, err)
	assert.True(t, f.Accepts(event))
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	hub := startHub(t)
	sub := hub.Subscribe(Filter{})

	event, err := SignalEvent(EventSignalCreated, testSignal())
	require.NoError(t, err)

	// The subscriber never drains; the queue (8) fills, then it is dropped.
	for i := 0; i < 20; i++ {
		hub.Publish(event)
	}

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Out is closed on disconnect after the buffered events drain.
	for range sub.Out {
	}
}

func TestSubscriberPauseHaltsDelivery(t *testing.T) {
	hub := startHub(t)
	sub := hub.Subscribe(Filter{})
	defer sub.Close()

	event, err := SignalEvent(EventSignalCreated, testSignal())
	require.NoError(t, err)

	sub.Pause()
	hub.Publish(event)
	select {
	case <-sub.Out:
		t.Fatal("paused subscriber received an event")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, hub.SubscriberCount())

	// A new filter resumes delivery.
	sub.SetFilter(Filter{})
	hub.Publish(event)
	got := recvEvent(t, sub)
	assert.Equal(t, EventSignalCreated, got.Type)
}

func TestSubscriberCloseAfterHubShutdown(t *testing.T) {
	hub := NewHub(8, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	sub := hub.Subscribe(Filter{})
	cancel()
	<-done

	closed := make(chan struct{})
	go func() {
		sub.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked after hub shutdown")
	}

	// Subscribing against a stopped hub returns a dead subscriber instead
	// of blocking.
	late := hub.Subscribe(Filter{})
	_, open := <-late.Out
	assert.False(t, open)
}

func TestWebhookSenderPosts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		assert.Equal(t, EventSignalCreated, e.Type)
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, time.Second)
	require.NotNil(t, sender)
	go sender.Run()

	event, err := SignalEvent(EventSignalCreated, testSignal())
	require.NoError(t, err)
	sender.Send(event)

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	sender.Close()
}

func TestWebhookSenderNilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewWebhookSender("", time.Second))
}
