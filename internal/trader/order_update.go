package trader

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/clock"
	"ladder-trade-bot-go/internal/metrics"
	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/notify"
	"ladder-trade-bot-go/internal/quantity"
	"ladder-trade-bot-go/internal/store"
)

// ErrOrderNotFound is returned when an update names an order that is not stored.
var ErrOrderNotFound = fmt.Errorf("order not found: %w", store.ErrNotFound)

// OrderUpdate is an execution report pushed by the exchange.
type OrderUpdate struct {
	ExchangeOrderID  string             `json:"exchange_order_id" binding:"required"`
	Symbol           string             `json:"symbol"`
	Status           models.OrderStatus `json:"status" binding:"required"`
	FilledQuantity   float64            `json:"filled_quantity"`
	AverageFillPrice *float64           `json:"average_fill_price,omitempty"`
	// FeeDelta is the fee charged by this report only, never the running total.
	FeeDelta float64 `json:"fee_delta"`
	// FillID identifies the execution; a repeated FillID is ignored.
	FillID string `json:"fill_id,omitempty"`
}

// OrderUpdater applies execution reports to stored orders and their trades.
type OrderUpdater struct {
	store    store.Store
	clock    clock.Clock
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewOrderUpdater(deps Deps) *OrderUpdater {
	deps = deps.withDefaults()
	return &OrderUpdater{
		store:    deps.Store,
		clock:    deps.Clock,
		notifier: deps.Notifier,
		logger:   deps.Logger.Named("order-update"),
	}
}

// Apply overwrites status, filled quantity and average price, and adds the fee delta.
func (u *OrderUpdater) Apply(ctx context.Context, update OrderUpdate) error {
	var orderID uint
	var status models.OrderStatus
	skipped := false

	err := u.store.Transaction(ctx, func(tx store.Store) error {
		order, err := tx.FindOrderByExchangeID(ctx, update.ExchangeOrderID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, update.ExchangeOrderID)
		}
		if err != nil {
			return err
		}
		if update.FillID != "" && update.FillID == order.LastFillID {
			skipped = true
			return nil
		}

		previous := order.Status
		// Once terminal, only the fee may still change.
		if !previous.IsTerminal() {
			order.Status = update.Status
			order.FilledQuantity = update.FilledQuantity
			if update.AverageFillPrice != nil {
				order.AverageFillPrice = update.AverageFillPrice
			}
		}
		order.Fee = quantity.Sum(order.Fee, update.FeeDelta)
		if update.FillID != "" {
			order.LastFillID = update.FillID
		}
		order.LastUpdated = u.clock.Now()
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		orderID, status = order.ID, order.Status
		return settle(ctx, tx, order, previous, u.logger)
	})
	if err != nil {
		return err
	}
	if skipped {
		u.logger.Debug("Replayed fill ignored", zap.String("exchange_order_id", update.ExchangeOrderID), zap.String("fill_id", update.FillID))
		return nil
	}

	metrics.OrderUpdates.WithLabelValues(string(status)).Inc()
	u.notifier.NotifyOrderUpdated(ctx, orderID)
	return nil
}

// recordExit links order as the exit of trades. An order the exchange already reported
// as terminal is settled in the same transaction, since no later update will move it.
func recordExit(ctx context.Context, tx store.Store, order *models.Order, trades []models.Trade, stopLoss bool, logger *zap.Logger) error {
	if err := tx.AssignExitOrder(ctx, order, trades, stopLoss); err != nil {
		return err
	}
	if !order.Status.IsTerminal() {
		return nil
	}
	return settle(ctx, tx, order, models.OrderStatusNew, logger)
}

// settle applies the trade-level consequences of an order reaching a terminal status.
func settle(ctx context.Context, tx store.Store, order *models.Order, previous models.OrderStatus, logger *zap.Logger) error {
	if order.Status == previous || !order.Status.IsTerminal() {
		return nil
	}

	closing, err := tx.TradesByExitOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if len(closing) > 0 {
		return settleExit(ctx, tx, order, closing, logger)
	}

	if order.Status != models.OrderStatusCanceled || order.FilledQuantity > 0 {
		return nil
	}
	trade, err := tx.TradeByEntryOrder(ctx, order.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("Entry order canceled unfilled; dropping trade", zap.Uint("trade_id", trade.ID), zap.Uint("order_id", order.ID))
	return tx.DeleteTrade(ctx, trade.ID)
}

func settleExit(ctx context.Context, tx store.Store, order *models.Order, closing []models.Trade, logger *zap.Logger) error {
	if order.Status == models.OrderStatusCanceled {
		if order.FilledQuantity > 0 {
			logger.Warn("Exit order canceled after partial fill; trades stay closing", zap.Uint("order_id", order.ID))
			return nil
		}
		logger.Info("Exit order canceled; reopening trades", zap.Uint("order_id", order.ID), zap.Int("trades", len(closing)))
		return tx.DetachExitOrder(ctx, order.ID)
	}

	// A SELL exit closes a long position.
	dir := 1.0
	if order.Side == models.OrderSideBuy {
		dir = -1
	}
	exitPrice := order.EffectivePrice()
	for _, t := range closing {
		if t.EntryOrder == nil {
			continue
		}
		profit := dir * (exitPrice - t.EntryOrder.EffectivePrice()) * t.EntryOrder.FilledQuantity
		if err := tx.SetTradeProfit(ctx, t.ID, profit); err != nil {
			return err
		}
		logger.Info("Trade closed", zap.Uint("trade_id", t.ID), zap.Float64("profit", profit), zap.Bool("stop_loss", t.IsStopLoss))
	}
	return nil
}
