package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ladder-trade-bot-go/internal/database"
	"ladder-trade-bot-go/internal/models"
)

// setupStore creates an isolated in-memory database for each test.
func setupStore(t *testing.T) *GormStore {
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return New(db)
}

func newOrder(botID uint, exchangeID string, status models.OrderStatus, updated time.Time) *models.Order {
	return &models.Order{
		BotID:           botID,
		Symbol:          "BTCUSDT",
		Side:            models.OrderSideBuy,
		Type:            models.OrderTypeLimit,
		Price:           100,
		Quantity:        1,
		Status:          status,
		ExchangeOrderID: &exchangeID,
		LastUpdated:     updated,
	}
}

func TestEnabledBotsBySymbol(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.db.Create(&models.Bot{Name: "a", Symbol: "BTCUSDT", Enabled: true, EntryQuantity: 1}).Error)
	require.NoError(t, s.db.Create(&models.Bot{Name: "b", Symbol: "ETHUSDT", Enabled: true, EntryQuantity: 1}).Error)
	require.NoError(t, s.db.Create(&models.Bot{Name: "c", Symbol: "BTCUSDT", Enabled: false, EntryQuantity: 1}).Error)

	bots, err := s.EnabledBotsBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, "a", bots[0].Name)

	symbols, err := s.EnabledSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)
}

func TestCreateBotKeepsZeroValues(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	bot := models.Bot{Name: "short", Symbol: "BTCUSDT", IsLong: false, Enabled: false, EntryQuantity: 1}

	require.NoError(t, s.db.Create(&bot).Error)

	var saved models.Bot
	require.NoError(t, s.db.First(&saved, bot.ID).Error)
	assert.False(t, saved.Enabled)
	assert.False(t, saved.IsLong)
	bots, err := s.EnabledBotsBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, bots)
}

func TestCreateEntryTradesAndAssignExit(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	trades, err := s.CreateEntryTrades(ctx, []*models.Order{
		newOrder(1, "e1", models.OrderStatusFilled, now),
		newOrder(1, "e2", models.OrderStatusFilled, now),
	})
	require.NoError(t, err)
	require.Len(t, trades, 2)

	open, err := s.OpenTrades(ctx, 1)
	require.NoError(t, err)
	require.Len(t, open, 2)
	require.NotNil(t, open[0].EntryOrder)
	assert.Equal(t, "e1", *open[0].EntryOrder.ExchangeOrderID)

	exit := newOrder(1, "x1", models.OrderStatusNew, now)
	exit.Side = models.OrderSideSell
	require.NoError(t, s.AssignExitOrder(ctx, exit, open, true))

	open, err = s.OpenTrades(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, open)

	closing, err := s.TradesByExitOrder(ctx, exit.ID)
	require.NoError(t, err)
	require.Len(t, closing, 2)
	assert.True(t, closing[0].IsStopLoss)

	// A second assignment over the same trades must not partially apply.
	again := newOrder(1, "x2", models.OrderStatusNew, now)
	assert.Error(t, s.AssignExitOrder(ctx, again, closing, false))
	_, err = s.FindOrderByExchangeID(ctx, "x2")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DetachExitOrder(ctx, exit.ID))
	open, err = s.OpenTrades(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestStaleOrders(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.db.Create(newOrder(1, "old", models.OrderStatusNew, now.Add(-11*time.Minute))).Error)
	require.NoError(t, s.db.Create(newOrder(1, "fresh", models.OrderStatusNew, now.Add(-9*time.Minute))).Error)
	require.NoError(t, s.db.Create(newOrder(2, "done", models.OrderStatusFilled, now.Add(-time.Hour))).Error)
	require.NoError(t, s.db.Create(newOrder(2, "partial", models.OrderStatusPartiallyFilled, now.Add(-time.Hour))).Error)

	stale, err := s.StaleOrders(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)

	var ids []string
	for _, o := range stale {
		ids = append(ids, *o.ExchangeOrderID)
	}
	assert.Equal(t, []string{"old", "partial"}, ids)
}

func TestTransactionRollback(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx Store) error {
		if err := tx.SaveTicker(ctx, &models.Ticker{Symbol: "BTCUSDT", Bid: 1, Ask: 2}); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	tickers, err := s.Tickers(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, tickers)
}
