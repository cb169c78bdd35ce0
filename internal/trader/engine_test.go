package trader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/config"
	"ladder-trade-bot-go/internal/jobs"
	"ladder-trade-bot-go/internal/models"
)

func engineConfig() *config.Config {
	return &config.Config{
		Exchange: config.Exchange{Driver: "paper"},
		Engine: config.Engine{
			Workers:           2,
			QueueBuffer:       8,
			StaleThreshold:    10 * time.Minute,
			ReconcileInterval: time.Hour,
			ShutdownTimeout:   5 * time.Second,
		},
	}
}

func TestEngine_DrainsQueuedWorkOnShutdown(t *testing.T) {
	// Arrange
	env := setupTest(t)
	bot := env.createBot(t, longBot())
	env.gateway.On("PlaceOrder", bot.ID, 100.0, 1.0, true, models.OrderTypeLimit).Return(nil, nil).Once()
	engine := NewEngine(zap.NewNop(), engineConfig(), env.deps)
	require.NoError(t, engine.SubmitTicker(models.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 100.1, Timestamp: testNow}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	err := engine.Run(ctx)

	// Assert
	require.NoError(t, err)
	env.gateway.AssertExpectations(t)
	open := env.openTrades(t, bot.ID)
	require.Len(t, open, 1)
	assert.Equal(t, 100.0, open[0].EntryOrder.Price)
	assert.ErrorIs(t, engine.SubmitTicker(models.Ticker{Symbol: "BTCUSDT", Bid: 1, Ask: 1}), jobs.ErrQueueClosed)
}

func TestEngine_OrderUpdatesFollowTickers(t *testing.T) {
	env := setupTest(t)
	bot := env.createBot(t, longBot())
	env.gateway.On("PlaceOrder", bot.ID, 100.0, 1.0, true, models.OrderTypeLimit).Return(nil, nil).Once()
	engine := NewEngine(zap.NewNop(), engineConfig(), env.deps)

	require.NoError(t, engine.SubmitTicker(models.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 100.1}))
	// The mock names its first order ex-1; the update shares the ticker's lane.
	require.NoError(t, engine.SubmitOrderUpdate(OrderUpdate{
		ExchangeOrderID: "ex-1", Symbol: "BTCUSDT", Status: models.OrderStatusFilled, FilledQuantity: 1,
	}))
	require.NoError(t, engine.SubmitOrderUpdate(OrderUpdate{ExchangeOrderID: "unknown", Status: models.OrderStatusFilled}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, engine.Run(ctx))

	open := env.openTrades(t, bot.ID)
	require.Len(t, open, 1)
	assert.Equal(t, models.OrderStatusFilled, open[0].EntryOrder.Status)
}

func TestEngine_SubmitTickerRequiresSymbol(t *testing.T) {
	env := setupTest(t)
	engine := NewEngine(zap.NewNop(), engineConfig(), env.deps)

	assert.Error(t, engine.SubmitTicker(models.Ticker{Bid: 1, Ask: 1}))
}

func TestEngine_Status(t *testing.T) {
	env := setupTest(t)
	engine := NewEngine(zap.NewNop(), engineConfig(), env.deps)
	require.NoError(t, engine.TriggerReconcile())

	status := engine.Status()

	assert.Equal(t, engine.UUID, status.UUID)
	assert.Equal(t, 2, status.Workers)
	assert.Equal(t, 1, status.QueueDepth)
	assert.Equal(t, "paper", status.Driver)
	assert.Equal(t, testNow.Format(time.RFC3339), status.StartTime)
}
