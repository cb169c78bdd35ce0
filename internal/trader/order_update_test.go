package trader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/store"
)

func TestOrderUpdater_AccumulatesFeesAcrossPartialFills(t *testing.T) {
	// Arrange
	env := setupTest(t)
	bot := env.createBot(t, longBot())
	trade := env.seedTrade(t, bot, 100, 1, 0, 0, models.OrderStatusNew)
	exchangeID := *trade.EntryOrder.ExchangeOrderID
	updater := NewOrderUpdater(env.deps)
	ctx := context.Background()

	// Act
	require.NoError(t, updater.Apply(ctx, OrderUpdate{
		ExchangeOrderID: exchangeID, Status: models.OrderStatusPartiallyFilled,
		FilledQuantity: 0.4, FeeDelta: 0.0004, AverageFillPrice: ptr(99.98), FillID: "f1",
	}))
	env.clock.Advance(time.Minute)
	require.NoError(t, updater.Apply(ctx, OrderUpdate{
		ExchangeOrderID: exchangeID, Status: models.OrderStatusFilled,
		FilledQuantity: 1, FeeDelta: 0.0006, FillID: "f2",
	}))

	// Assert
	order := env.reloadTrade(t, trade.ID).EntryOrder
	assert.Equal(t, models.OrderStatusFilled, order.Status)
	assert.Equal(t, 1.0, order.FilledQuantity)
	assert.InDelta(t, 0.001, order.Fee, 1e-12)
	require.NotNil(t, order.AverageFillPrice)
	assert.Equal(t, 99.98, *order.AverageFillPrice, "average price kept when not reported")
	assert.Equal(t, testNow.Add(time.Minute), order.LastUpdated.UTC())
	assert.Len(t, env.notifier.IDs(), 2)
}

func TestOrderUpdater_ReplayedFillIsIgnored(t *testing.T) {
	env := setupTest(t)
	bot := env.createBot(t, longBot())
	trade := env.seedTrade(t, bot, 100, 1, 0, 0, models.OrderStatusNew)
	update := OrderUpdate{
		ExchangeOrderID: *trade.EntryOrder.ExchangeOrderID, Status: models.OrderStatusPartiallyFilled,
		FilledQuantity: 0.5, FeeDelta: 0.0005, FillID: "f1",
	}
	updater := NewOrderUpdater(env.deps)

	require.NoError(t, updater.Apply(context.Background(), update))
	require.NoError(t, updater.Apply(context.Background(), update))

	order := env.reloadTrade(t, trade.ID).EntryOrder
	assert.InDelta(t, 0.0005, order.Fee, 1e-12)
}

func TestOrderUpdater_UnknownOrder(t *testing.T) {
	env := setupTest(t)
	bot := env.createBot(t, longBot())
	trade := env.seedTrade(t, bot, 100, 1, 0, 0, models.OrderStatusNew)
	before := env.reloadTrade(t, trade.ID).EntryOrder

	err := NewOrderUpdater(env.deps).Apply(context.Background(), OrderUpdate{
		ExchangeOrderID: "missing", Status: models.OrderStatusFilled, FilledQuantity: 1, FeeDelta: 1,
	})

	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
	after := env.reloadTrade(t, trade.ID).EntryOrder
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Fee, after.Fee)
	assert.Equal(t, before.FilledQuantity, after.FilledQuantity)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Empty(t, env.notifier.IDs())
}

func TestOrderUpdater_TerminalStatusIsFinal(t *testing.T) {
	env := setupTest(t)
	bot := env.createBot(t, longBot())
	trade := env.seedTrade(t, bot, 100, 1, 1, 0, models.OrderStatusFilled)

	require.NoError(t, NewOrderUpdater(env.deps).Apply(context.Background(), OrderUpdate{
		ExchangeOrderID: *trade.EntryOrder.ExchangeOrderID, Status: models.OrderStatusPartiallyFilled,
		FilledQuantity: 0.3, FeeDelta: 0.0001, AverageFillPrice: ptr(97), FillID: "late",
	}))

	order := env.reloadTrade(t, trade.ID).EntryOrder
	assert.Equal(t, models.OrderStatusFilled, order.Status)
	assert.Equal(t, 1.0, order.FilledQuantity)
	assert.Nil(t, order.AverageFillPrice)
	assert.InDelta(t, 0.0001, order.Fee, 1e-12)
}

func TestOrderUpdater_FilledExitRealizesProfit(t *testing.T) {
	env := setupTest(t)
	bot := env.createBot(t, longBot())
	trade := env.seedTrade(t, bot, 100, 2, 2, 0, models.OrderStatusFilled)
	exitID := "exit-1"
	exit := &models.Order{BotID: bot.ID, Symbol: bot.Symbol, Side: models.OrderSideSell, Type: models.OrderTypeLimit,
		Price: 100.5, Quantity: 2, Status: models.OrderStatusNew, ExchangeOrderID: &exitID, LastUpdated: testNow}
	require.NoError(t, env.store.AssignExitOrder(context.Background(), exit, []models.Trade{trade}, false))

	require.NoError(t, NewOrderUpdater(env.deps).Apply(context.Background(), OrderUpdate{
		ExchangeOrderID: exitID, Status: models.OrderStatusFilled, FilledQuantity: 2, AverageFillPrice: ptr(100.6),
	}))

	saved := env.reloadTrade(t, trade.ID)
	require.NotNil(t, saved.Profit)
	assert.InDelta(t, 1.2, *saved.Profit, 1e-9)
	require.NotNil(t, saved.ExitOrder)
}

func TestOrderUpdater_CanceledExitReopensTrade(t *testing.T) {
	env := setupTest(t)
	bot := env.createBot(t, longBot())
	trade := env.seedTrade(t, bot, 100, 1, 1, 0, models.OrderStatusFilled)
	exitID := "exit-1"
	exit := &models.Order{BotID: bot.ID, Symbol: bot.Symbol, Side: models.OrderSideSell, Type: models.OrderTypeLimit,
		Price: 100.5, Quantity: 1, Status: models.OrderStatusNew, ExchangeOrderID: &exitID, LastUpdated: testNow}
	require.NoError(t, env.store.AssignExitOrder(context.Background(), exit, []models.Trade{trade}, false))
	require.Empty(t, env.openTrades(t, bot.ID))

	require.NoError(t, NewOrderUpdater(env.deps).Apply(context.Background(), OrderUpdate{
		ExchangeOrderID: exitID, Status: models.OrderStatusCanceled,
	}))

	assert.Len(t, env.openTrades(t, bot.ID), 1)
}

func TestOrderUpdater_CanceledUnfilledEntryDropsTrade(t *testing.T) {
	env := setupTest(t)
	bot := env.createBot(t, longBot())
	trade := env.seedTrade(t, bot, 100, 1, 0, 0, models.OrderStatusNew)

	require.NoError(t, NewOrderUpdater(env.deps).Apply(context.Background(), OrderUpdate{
		ExchangeOrderID: *trade.EntryOrder.ExchangeOrderID, Status: models.OrderStatusCanceled,
	}))

	assert.Empty(t, env.openTrades(t, bot.ID))
	assert.True(t, env.reloadTrade(t, trade.ID).DeletedAt.Valid, "trade is soft-deleted")
}
