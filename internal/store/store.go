package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ladder-trade-bot-go/internal/models"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the repository the engines read and write through.
// Transaction runs fn against a Store bound to a single database transaction.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error

	EnabledBotsBySymbol(ctx context.Context, symbol string) ([]models.Bot, error)
	EnabledSymbols(ctx context.Context) ([]string, error)
	BotsByIDs(ctx context.Context, ids []uint) ([]models.Bot, error)

	OpenTrades(ctx context.Context, botID uint) ([]models.Trade, error)
	CreateEntryTrades(ctx context.Context, orders []*models.Order) ([]models.Trade, error)
	AssignExitOrder(ctx context.Context, order *models.Order, trades []models.Trade, stopLoss bool) error
	TradesByExitOrder(ctx context.Context, orderID uint) ([]models.Trade, error)
	TradeByEntryOrder(ctx context.Context, orderID uint) (*models.Trade, error)
	SetTradeProfit(ctx context.Context, tradeID uint, profit float64) error
	DetachExitOrder(ctx context.Context, orderID uint) error
	DeleteTrade(ctx context.Context, tradeID uint) error

	FindOrderByExchangeID(ctx context.Context, exchangeID string) (*models.Order, error)
	SaveOrder(ctx context.Context, order *models.Order) error
	StaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	TouchOrder(ctx context.Context, orderID uint, at time.Time) error

	SaveTicker(ctx context.Context, ticker *models.Ticker) error
	Tickers(ctx context.Context, symbol string, limit int) ([]models.Ticker, error)
	Trades(ctx context.Context, botID uint, limit int) ([]models.Trade, error)
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// New wraps an opened, migrated gorm connection.
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying connection for read-only reporting queries.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) EnabledBotsBySymbol(ctx context.Context, symbol string) ([]models.Bot, error) {
	var bots []models.Bot
	if err := s.db.WithContext(ctx).Where("symbol = ? AND enabled = ?", symbol, true).Order("id").Find(&bots).Error; err != nil {
		return nil, fmt.Errorf("could not load bots for %s: %w", symbol, err)
	}
	return bots, nil
}

func (s *GormStore) EnabledSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	if err := s.db.WithContext(ctx).Model(&models.Bot{}).Where("enabled = ?", true).Distinct().Order("symbol").Pluck("symbol", &symbols).Error; err != nil {
		return nil, fmt.Errorf("could not load symbols: %w", err)
	}
	return symbols, nil
}

func (s *GormStore) BotsByIDs(ctx context.Context, ids []uint) ([]models.Bot, error) {
	var bots []models.Bot
	if len(ids) == 0 {
		return bots, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&bots).Error; err != nil {
		return nil, fmt.Errorf("could not load bots: %w", err)
	}
	return bots, nil
}

// OpenTrades returns the bot's trades without exit order or profit, oldest first, with entry orders loaded.
func (s *GormStore) OpenTrades(ctx context.Context, botID uint) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Preload("EntryOrder").
		Where("bot_id = ? AND exit_order_id IS NULL AND profit IS NULL", botID).
		Order("created_at, id").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("could not load open trades for bot %d: %w", botID, err)
	}
	return trades, nil
}

// CreateEntryTrades persists accepted entry orders and one trade per order.
func (s *GormStore) CreateEntryTrades(ctx context.Context, orders []*models.Order) ([]models.Trade, error) {
	trades := make([]models.Trade, 0, len(orders))
	err := s.Transaction(ctx, func(tx Store) error {
		db := tx.(*GormStore).db
		for _, order := range orders {
			if err := db.Create(order).Error; err != nil {
				return fmt.Errorf("could not save entry order: %w", err)
			}
			trade := models.Trade{BotID: order.BotID, EntryOrderID: order.ID}
			if err := db.Omit(clause.Associations).Create(&trade).Error; err != nil {
				return fmt.Errorf("could not save trade: %w", err)
			}
			trade.EntryOrder = order
			trades = append(trades, trade)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// AssignExitOrder saves order and links it as the exit of every trade in trades.
func (s *GormStore) AssignExitOrder(ctx context.Context, order *models.Order, trades []models.Trade, stopLoss bool) error {
	if len(trades) == 0 {
		return errors.New("no trades to assign exit order to")
	}
	ids := make([]uint, 0, len(trades))
	for _, trade := range trades {
		ids = append(ids, trade.ID)
	}
	return s.Transaction(ctx, func(tx Store) error {
		db := tx.(*GormStore).db
		if err := db.Create(order).Error; err != nil {
			return fmt.Errorf("could not save exit order: %w", err)
		}
		res := db.Model(&models.Trade{}).
			Where("id IN ? AND exit_order_id IS NULL", ids).
			Updates(map[string]interface{}{"exit_order_id": order.ID, "is_stop_loss": stopLoss})
		if res.Error != nil {
			return fmt.Errorf("could not link exit order: %w", res.Error)
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("exit order linked %d of %d trades", res.RowsAffected, len(ids))
		}
		return nil
	})
}

func (s *GormStore) TradesByExitOrder(ctx context.Context, orderID uint) ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.WithContext(ctx).Preload("EntryOrder").Where("exit_order_id = ?", orderID).Order("id").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("could not load trades for exit order %d: %w", orderID, err)
	}
	return trades, nil
}

func (s *GormStore) TradeByEntryOrder(ctx context.Context, orderID uint) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).Where("entry_order_id = ?", orderID).First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not load trade for entry order %d: %w", orderID, err)
	}
	return &trade, nil
}

func (s *GormStore) SetTradeProfit(ctx context.Context, tradeID uint, profit float64) error {
	return s.db.WithContext(ctx).Model(&models.Trade{}).Where("id = ?", tradeID).Update("profit", profit).Error
}

// DetachExitOrder reopens the trades closed by orderID.
func (s *GormStore) DetachExitOrder(ctx context.Context, orderID uint) error {
	return s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("exit_order_id = ? AND profit IS NULL", orderID).
		Updates(map[string]interface{}{"exit_order_id": nil, "is_stop_loss": false}).Error
}

// DeleteTrade soft-deletes a trade; the row stays for audit.
func (s *GormStore) DeleteTrade(ctx context.Context, tradeID uint) error {
	return s.db.WithContext(ctx).Delete(&models.Trade{}, tradeID).Error
}

func (s *GormStore) FindOrderByExchangeID(ctx context.Context, exchangeID string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("exchange_order_id = ?", exchangeID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not load order %s: %w", exchangeID, err)
	}
	return &order, nil
}

func (s *GormStore) SaveOrder(ctx context.Context, order *models.Order) error {
	if err := s.db.WithContext(ctx).Save(order).Error; err != nil {
		return fmt.Errorf("could not save order %d: %w", order.ID, err)
	}
	return nil
}

// StaleOrders returns non-terminal orders last updated strictly before cutoff.
func (s *GormStore) StaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("status NOT IN ? AND last_updated < ?", models.TerminalStatuses, cutoff).
		Order("bot_id, id").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("could not load stale orders: %w", err)
	}
	return orders, nil
}

func (s *GormStore) TouchOrder(ctx context.Context, orderID uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Update("last_updated", at).Error
}

func (s *GormStore) SaveTicker(ctx context.Context, ticker *models.Ticker) error {
	if err := s.db.WithContext(ctx).Create(ticker).Error; err != nil {
		return fmt.Errorf("could not save ticker: %w", err)
	}
	return nil
}

func (s *GormStore) Tickers(ctx context.Context, symbol string, limit int) ([]models.Ticker, error) {
	var tickers []models.Ticker
	q := s.db.WithContext(ctx).Where("symbol = ?", symbol).Order("timestamp desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&tickers).Error
	return tickers, err
}

// Trades lists trades newest first; botID 0 means all bots and limit 0 means no limit.
func (s *GormStore) Trades(ctx context.Context, botID uint, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	q := s.db.WithContext(ctx).Preload("EntryOrder").Preload("ExitOrder").Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if botID != 0 {
		q = q.Where("bot_id = ?", botID)
	}
	err := q.Find(&trades).Error
	return trades, err
}
