package paper

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/db"
)

// kellyMinSample is the closed-trade count below which Kelly sizing falls
// back to the account's fixed stake; the win-rate estimate is noise before
// that.
const kellyMinSample = 10

// kellyCap bounds the Kelly fraction at 5% of balance.
var kellyCap = decimal.NewFromFloat(0.05)

var oneHundred = decimal.NewFromInt(100)

// positionSize derives the stake for a new trade from the account's sizing
// rule. Returns zero when the account cannot fund the trade.
func (m *Manager) positionSize(ctx context.Context, account *db.PaperAccount) (decimal.Decimal, error) {
	var size decimal.Decimal

	switch account.SizingMode {
	case db.SizingPercent:
		size = account.CurrentBalance.Mul(account.SizingValue).Div(oneHundred)
	case db.SizingKelly:
		fraction, err := m.kellyFraction(ctx, account)
		if err != nil {
			return decimal.Zero, err
		}
		size = account.CurrentBalance.Mul(fraction)
	default: // FIXED
		size = account.SizingValue
	}

	if size.GreaterThan(account.CurrentBalance) {
		return decimal.Zero, nil
	}
	return size, nil
}

// kellyFraction computes the capped Kelly criterion from the account's
// closed-trade history: f = W - (1-W)/R with R the average win/loss ratio.
func (m *Manager) kellyFraction(ctx context.Context, account *db.PaperAccount) (decimal.Decimal, error) {
	total, wins, avgWin, avgLoss, err := m.store.ClosedTradeStats(ctx, account.ID)
	if err != nil {
		return decimal.Zero, err
	}

	if total < kellyMinSample || avgLoss.IsZero() {
		// Not enough history; stake the fixed value as a balance fraction.
		if account.CurrentBalance.IsZero() {
			return decimal.Zero, nil
		}
		fallback := account.SizingValue.Div(account.CurrentBalance)
		if fallback.GreaterThan(kellyCap) {
			return kellyCap, nil
		}
		return fallback, nil
	}

	winRate := decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(total)))
	ratio := avgWin.Div(avgLoss)
	if ratio.IsZero() {
		return decimal.Zero, nil
	}

	fraction := winRate.Sub(decimal.NewFromInt(1).Sub(winRate).Div(ratio))
	if fraction.IsNegative() {
		return decimal.Zero, nil
	}
	if fraction.GreaterThan(kellyCap) {
		return kellyCap, nil
	}
	return fraction, nil
}

// realizedPnL computes the P/L of a closed position:
// (exit - entry) x direction x size x leverage / entry.
func realizedPnL(trade *db.PaperTrade, exitPrice decimal.Decimal) decimal.Decimal {
	if trade.Entry.IsZero() {
		return decimal.Zero
	}
	move := exitPrice.Sub(trade.Entry)
	if trade.Direction.Sign() < 0 {
		move = move.Neg()
	}
	return move.
		Mul(trade.Size).
		Mul(decimal.NewFromInt(int64(trade.Leverage))).
		Div(trade.Entry)
}
