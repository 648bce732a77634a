// Package paper converts signals into simulated positions, marks them to
// market against live prices, and settles them on SL/TP or command.
package paper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/fanout"
	"github.com/signalhound/signalhound/internal/market"
	"github.com/signalhound/signalhound/internal/metrics"
)

// Store is the persistence surface the manager needs.
type Store interface {
	ListAccounts(ctx context.Context) ([]*db.PaperAccount, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*db.PaperAccount, error)
	CountOpenTrades(ctx context.Context, accountID uuid.UUID) (int, error)
	ClosedTradeStats(ctx context.Context, accountID uuid.UUID) (total, wins int, avgWin, avgLoss decimal.Decimal, err error)
	InsertTrade(ctx context.Context, t *db.PaperTrade) error
	GetTrade(ctx context.Context, id uuid.UUID) (*db.PaperTrade, error)
	CloseTrade(ctx context.Context, id uuid.UUID, status db.TradeStatus,
		exitPrice, realizedPnL decimal.Decimal, reason string) error
	CancelTrade(ctx context.Context, id uuid.UUID, reason string) error
	ListOpenTrades(ctx context.Context) ([]*db.PaperTrade, error)
}

// Ticker provides current prices for the mark-to-market loop.
type Ticker interface {
	GetBatchTickers(ctx context.Context, kind market.Kind, symbols []string) (map[string]float64, error)
}

// Publisher receives trade lifecycle events. The fan-out hub implements it.
type Publisher interface {
	Publish(event fanout.Event)
}

// Manager is the paper-trading lifecycle manager.
type Manager struct {
	store    Store
	ticker   Ticker
	events   Publisher
	interval time.Duration
}

// NewManager creates a manager. events may be nil in backtests.
func NewManager(store Store, ticker Ticker, events Publisher, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{store: store, ticker: ticker, events: events, interval: interval}
}

// OnSignalCreated opens a trade on every eligible account: auto-trading
// enabled, confidence at or above the account threshold, open slots left,
// and a fundable position size.
func (m *Manager) OnSignalCreated(ctx context.Context, sig *db.Signal) ([]*db.PaperTrade, error) {
	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var opened []*db.PaperTrade
	for _, account := range accounts {
		trade, err := m.openForAccount(ctx, account, sig)
		if err != nil {
			log.Warn().Err(err).
				Str("account", account.Name).
				Str("signal_id", sig.ID.String()).
				Msg("Failed to open paper trade")
			continue
		}
		if trade != nil {
			opened = append(opened, trade)
		}
	}
	return opened, nil
}

func (m *Manager) openForAccount(ctx context.Context, account *db.PaperAccount, sig *db.Signal) (*db.PaperTrade, error) {
	if !account.AutoTrading || sig.Confidence < account.MinConfidence {
		return nil, nil
	}

	open, err := m.store.CountOpenTrades(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if open >= account.MaxTrades {
		log.Debug().
			Str("account", account.Name).
			Int("open", open).
			Msg("Account at open-trade cap, signal skipped")
		return nil, nil
	}

	size, err := m.positionSize(ctx, account)
	if err != nil {
		return nil, err
	}
	if size.IsZero() || size.IsNegative() {
		log.Debug().Str("account", account.Name).Msg("Position size not fundable, signal skipped")
		return nil, nil
	}

	sigID := sig.ID
	trade := &db.PaperTrade{
		AccountID:  account.ID,
		SignalID:   &sigID,
		Symbol:     sig.Symbol,
		Market:     sig.Market,
		Direction:  sig.Direction,
		Entry:      sig.Entry,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Size:       size,
		Leverage:   sig.Leverage,
		Status:     db.TradeOpen,
	}

	if err := m.store.InsertTrade(ctx, trade); err != nil {
		return nil, err
	}
	metrics.TradesOpened.Inc()

	log.Info().
		Str("account", account.Name).
		Str("symbol", trade.Symbol).
		Str("direction", string(trade.Direction)).
		Str("size", size.String()).
		Msg("Paper trade opened")

	m.publishTrade(fanout.EventTradeOpened, trade)
	return trade, nil
}

// Run is the mark-to-market loop: every interval, fetch one price batch per
// market kind and settle the open trades it resolves.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.interval).Msg("Mark-to-market loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Mark-to-market loop stopped")
			return
		case <-ticker.C:
			if err := m.MarkToMarket(ctx); err != nil {
				log.Error().Err(err).Msg("Mark-to-market pass failed")
			}
		}
	}
}

// MarkToMarket runs a single settlement pass over all open trades.
func (m *Manager) MarkToMarket(ctx context.Context) error {
	trades, err := m.store.ListOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("list open trades: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	byKind := map[market.Kind][]string{}
	seen := map[string]bool{}
	for _, t := range trades {
		key := string(t.Market) + ":" + t.Symbol
		if !seen[key] {
			seen[key] = true
			byKind[t.Market] = append(byKind[t.Market], t.Symbol)
		}
	}

	prices := map[string]decimal.Decimal{}
	for kind, symbols := range byKind {
		batch, err := m.ticker.GetBatchTickers(ctx, kind, symbols)
		if err != nil {
			log.Warn().Err(err).Str("market", string(kind)).Msg("Ticker batch failed")
			continue
		}
		for symbol, price := range batch {
			prices[string(kind)+":"+symbol] = decimal.NewFromFloat(price)
		}
	}

	for _, trade := range trades {
		price, ok := prices[string(trade.Market)+":"+trade.Symbol]
		if !ok {
			continue
		}
		if err := m.settle(ctx, trade, price); err != nil {
			log.Warn().Err(err).Str("trade_id", trade.ID.String()).Msg("Trade settlement failed")
		}
	}
	return nil
}

// settle closes the trade if the price has reached its TP or SL. Exit price
// is pinned to the trigger level, not the observed price.
func (m *Manager) settle(ctx context.Context, trade *db.PaperTrade, price decimal.Decimal) error {
	var status db.TradeStatus
	var exit decimal.Decimal

	if trade.Direction == market.Long {
		switch {
		case price.LessThanOrEqual(trade.StopLoss):
			status, exit = db.TradeClosedSL, trade.StopLoss
		case price.GreaterThanOrEqual(trade.TakeProfit):
			status, exit = db.TradeClosedTP, trade.TakeProfit
		}
	} else {
		switch {
		case price.GreaterThanOrEqual(trade.StopLoss):
			status, exit = db.TradeClosedSL, trade.StopLoss
		case price.LessThanOrEqual(trade.TakeProfit):
			status, exit = db.TradeClosedTP, trade.TakeProfit
		}
	}

	if status == "" {
		return nil
	}

	reason := "take profit hit"
	if status == db.TradeClosedSL {
		reason = "stop loss hit"
	}
	return m.close(ctx, trade, status, exit, reason)
}

// Close force-closes a trade at the current market price.
func (m *Manager) Close(ctx context.Context, tradeID uuid.UUID, reason string) (*db.PaperTrade, error) {
	trade, err := m.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != db.TradeOpen {
		return nil, fmt.Errorf("trade %s is %s, not open", tradeID, trade.Status)
	}

	batch, err := m.ticker.GetBatchTickers(ctx, trade.Market, []string{trade.Symbol})
	if err != nil {
		return nil, fmt.Errorf("fetch price for %s: %w", trade.Symbol, err)
	}
	price, ok := batch[trade.Symbol]
	if !ok {
		return nil, fmt.Errorf("no price for %s", trade.Symbol)
	}

	if reason == "" {
		reason = "manual close"
	}
	exit := decimal.NewFromFloat(price)
	if err := m.close(ctx, trade, db.TradeClosedManual, exit, reason); err != nil {
		return nil, err
	}
	return trade, nil
}

// Cancel cancels a trade without settling P/L.
func (m *Manager) Cancel(ctx context.Context, tradeID uuid.UUID, reason string) error {
	if err := m.store.CancelTrade(ctx, tradeID, reason); err != nil {
		return err
	}
	log.Info().Str("trade_id", tradeID.String()).Str("reason", reason).Msg("Paper trade cancelled")
	return nil
}

// CloseExpired settles a trade whose signal expired, at the given price.
func (m *Manager) CloseExpired(ctx context.Context, trade *db.PaperTrade, price decimal.Decimal) error {
	return m.close(ctx, trade, db.TradeClosedExpired, price, "signal expired")
}

func (m *Manager) close(ctx context.Context, trade *db.PaperTrade, status db.TradeStatus,
	exitPrice decimal.Decimal, reason string) error {

	pnl := realizedPnL(trade, exitPrice)
	if err := m.store.CloseTrade(ctx, trade.ID, status, exitPrice, pnl, reason); err != nil {
		return err
	}

	now := time.Now()
	trade.Status = status
	trade.ExitPrice = &exitPrice
	trade.ExitTime = &now
	trade.RealizedPnL = &pnl
	trade.CloseReason = &reason

	log.Info().
		Str("trade_id", trade.ID.String()).
		Str("symbol", trade.Symbol).
		Str("status", string(status)).
		Str("exit", exitPrice.String()).
		Str("pnl", pnl.String()).
		Msg("Paper trade closed")

	m.publishTrade(fanout.EventTradeClosed, trade)
	return nil
}

func (m *Manager) publishTrade(eventType fanout.EventType, trade *db.PaperTrade) {
	if m.events == nil {
		return
	}
	event, err := fanout.TradeEvent(eventType, trade)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build trade event")
		return
	}
	m.events.Publish(event)
}
