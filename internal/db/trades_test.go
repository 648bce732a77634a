package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseTradeAppliesBalance(t *testing.T) {
	mock, store := newMockDB(t)
	tradeID := uuid.New()
	accountID := uuid.New()
	pnl := decimal.NewFromFloat(5.25)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE paper_trades SET").
		WithArgs(tradeID, TradeClosedTP, pgxmock.AnyArg(), pgxmock.AnyArg(), pnl, "take profit hit").
		WillReturnRows(pgxmock.NewRows([]string{"account_id"}).AddRow(accountID))
	mock.ExpectExec("UPDATE paper_accounts SET current_balance").
		WithArgs(accountID, pnl, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.CloseTrade(context.Background(), tradeID, TradeClosedTP,
		decimal.NewFromFloat(52625), pnl, "take profit hit")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseTradeAlreadyClosed(t *testing.T) {
	mock, store := newMockDB(t)
	tradeID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE paper_trades SET").
		WithArgs(tradeID, TradeClosedSL, pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), "stop loss hit").
		WillReturnRows(pgxmock.NewRows([]string{"account_id"}))
	mock.ExpectRollback()

	err := store.CloseTrade(context.Background(), tradeID, TradeClosedSL,
		decimal.NewFromInt(49250), decimal.NewFromFloat(-1.5), "stop loss hit")
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseTradeRejectsNonClosedStatus(t *testing.T) {
	_, store := newMockDB(t)

	err := store.CloseTrade(context.Background(), uuid.New(), TradeOpen,
		decimal.Zero, decimal.Zero, "")
	assert.Error(t, err)
}

func TestCancelTradeNotCancellable(t *testing.T) {
	mock, store := newMockDB(t)
	tradeID := uuid.New()

	mock.ExpectExec("UPDATE paper_trades SET").
		WithArgs(tradeID, "superseded", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.CancelTrade(context.Background(), tradeID, "superseded")
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountOpenTrades(t *testing.T) {
	mock, store := newMockDB(t)
	accountID := uuid.New()

	mock.ExpectQuery("SELECT count").
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountOpenTrades(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetAccountCancelsOpenTrades(t *testing.T) {
	mock, store := newMockDB(t)
	accountID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE paper_trades SET").
		WithArgs(accountID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec("UPDATE paper_accounts SET current_balance = initial_balance").
		WithArgs(accountID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.ResetAccount(context.Background(), accountID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeStatusClosed(t *testing.T) {
	assert.True(t, TradeClosedTP.Closed())
	assert.True(t, TradeClosedSL.Closed())
	assert.True(t, TradeClosedManual.Closed())
	assert.True(t, TradeClosedExpired.Closed())
	assert.False(t, TradeOpen.Closed())
	assert.False(t, TradeCancelled.Closed())
	assert.False(t, TradePending.Closed())
}
