package trader

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ladder-trade-bot-go/internal/clock"
	"ladder-trade-bot-go/internal/database"
	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/store"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// MockGateway is a mock implementation of exchange.Gateway.
// PlaceOrder echoes the request as a NEW order unless the expectation returns one.
type MockGateway struct {
	mock.Mock
	mu  sync.Mutex
	seq int
}

func (m *MockGateway) PlaceOrder(ctx context.Context, bot *models.Bot, price, qty float64, isBuy bool, orderType models.OrderType) (*models.Order, error) {
	args := m.Called(bot.ID, price, qty, isBuy, orderType)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if o, ok := args.Get(0).(*models.Order); ok && o != nil {
		c := *o
		return &c, nil
	}
	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("ex-%d", m.seq)
	m.mu.Unlock()
	return &models.Order{Price: price, Quantity: qty, Status: models.OrderStatusNew, ExchangeOrderID: &id}, nil
}

func (m *MockGateway) GetOrderStatus(ctx context.Context, order *models.Order, bot *models.Bot) (*models.Order, error) {
	args := m.Called(*order.ExchangeOrderID)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *MockGateway) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	return models.SymbolInfo{Symbol: symbol, MinQuantity: 0.001, StepSize: 0.001}, nil
}

type staticSymbols map[string]models.SymbolInfo

func (s staticSymbols) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	info, ok := s[symbol]
	if !ok {
		return models.SymbolInfo{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	return info, nil
}

// MockNotifier records notified order ids and the contexts they arrived with.
type MockNotifier struct {
	mu   sync.Mutex
	ids  []uint
	ctxs []context.Context
}

func (n *MockNotifier) NotifyOrderUpdated(ctx context.Context, orderID uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, orderID)
	n.ctxs = append(n.ctxs, ctx)
}

func (n *MockNotifier) Contexts() []context.Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]context.Context(nil), n.ctxs...)
}

func (n *MockNotifier) IDs() []uint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint(nil), n.ids...)
}

type testEnv struct {
	db       *gorm.DB
	store    *store.GormStore
	gateway  *MockGateway
	notifier *MockNotifier
	clock    *clock.Fixed
	deps     Deps
}

// setupTest creates a full test environment with a mock gateway and an isolated in-memory DB.
func setupTest(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	env := &testEnv{
		db:       db,
		store:    store.New(db),
		gateway:  new(MockGateway),
		notifier: &MockNotifier{},
		clock:    clock.NewFixed(testNow),
	}
	env.deps = Deps{
		Store:    env.store,
		Gateway:  env.gateway,
		Symbols:  staticSymbols{"BTCUSDT": {Symbol: "BTCUSDT", MinQuantity: 0.01, StepSize: 0.001}},
		Notifier: env.notifier,
		Clock:    env.clock,
		Logger:   zap.NewNop(),
		Workers:  4,
	}
	return env
}

func (e *testEnv) createBot(t *testing.T, bot models.Bot) models.Bot {
	if bot.Symbol == "" {
		bot.Symbol = "BTCUSDT"
	}
	bot.Enabled = true
	require.NoError(t, e.db.Create(&bot).Error)
	return bot
}

// seedTrade stores an open trade whose entry order has the given state.
func (e *testEnv) seedTrade(t *testing.T, bot models.Bot, price, qty, filled, fee float64, status models.OrderStatus) models.Trade {
	id := uuid.NewString()
	order := &models.Order{
		BotID:           bot.ID,
		Symbol:          bot.Symbol,
		Side:            bot.EntrySide(),
		Type:            models.OrderTypeLimit,
		Price:           price,
		Quantity:        qty,
		FilledQuantity:  filled,
		Fee:             fee,
		Status:          status,
		ExchangeOrderID: &id,
		LastUpdated:     e.clock.Now(),
	}
	trades, err := e.store.CreateEntryTrades(context.Background(), []*models.Order{order})
	require.NoError(t, err)
	return trades[0]
}

func (e *testEnv) openTrades(t *testing.T, botID uint) []models.Trade {
	trades, err := e.store.OpenTrades(context.Background(), botID)
	require.NoError(t, err)
	return trades
}

func (e *testEnv) reloadTrade(t *testing.T, id uint) models.Trade {
	var trade models.Trade
	require.NoError(t, e.db.Unscoped().Preload("EntryOrder").Preload("ExitOrder").First(&trade, id).Error)
	return trade
}

func (e *testEnv) exitOrders(t *testing.T, botID uint) []models.Order {
	var orders []models.Order
	require.NoError(t, e.db.Where("bot_id = ? AND id IN (SELECT exit_order_id FROM trades WHERE exit_order_id IS NOT NULL)", botID).Order("id").Find(&orders).Error)
	return orders
}

func tick(bid, ask float64) *models.Ticker {
	return &models.Ticker{Symbol: "BTCUSDT", Bid: bid, Ask: ask, Last: (bid + ask) / 2, Timestamp: testNow}
}

func ptr(v float64) *float64 { return &v }
