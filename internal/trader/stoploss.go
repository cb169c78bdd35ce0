package trader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/quantity"
	"ladder-trade-bot-go/internal/store"
)

const engineStopLoss = "stop_loss"

// StopLossEngine closes losing trades with one consolidated market order per bot.
type StopLossEngine struct {
	deps   Deps
	logger *zap.Logger
}

func NewStopLossEngine(deps Deps) *StopLossEngine {
	deps = deps.withDefaults()
	return &StopLossEngine{deps: deps, logger: deps.Logger.Named("stop-loss")}
}

func (e *StopLossEngine) Name() string { return engineStopLoss }

func (e *StopLossEngine) Handle(ctx context.Context, tick *models.Ticker, bots []models.Bot) Result {
	return forEachBot(ctx, engineStopLoss, e.deps.Workers, bots, func(ctx context.Context, bot *models.Bot) error {
		return e.handleBot(ctx, tick, bot)
	})
}

// losingTrades returns open, filled trades past the bot's stop-loss threshold.
func losingTrades(bot *models.Bot, tick *models.Ticker, open []models.Trade) []models.Trade {
	var out []models.Trade
	for _, t := range open {
		if !entryFilled(t.EntryOrder) {
			continue
		}
		threshold := quantity.StopLossThreshold(t.EntryOrder.EffectivePrice(), bot.StopLossPercent, bot.IsLong)
		if (bot.IsLong && tick.Bid <= threshold) || (!bot.IsLong && tick.Ask >= threshold) {
			out = append(out, t)
		}
	}
	return out
}

// consolidatedQuantity sums each trade's filled quantity net of fee, rounded down to step.
func consolidatedQuantity(trades []models.Trade, step float64) float64 {
	parts := make([]float64, 0, len(trades))
	for _, t := range trades {
		parts = append(parts, quantity.NetOfFee(t.EntryOrder.FilledQuantity, t.EntryOrder.Fee, step))
	}
	return quantity.Sum(parts...)
}

func (e *StopLossEngine) handleBot(ctx context.Context, tick *models.Ticker, bot *models.Bot) error {
	l := e.logger.With(zap.Uint("bot_id", bot.ID), zap.String("symbol", bot.Symbol))
	if !bot.StopLossEnabled {
		return nil
	}
	if bot.StopLossPercent <= 0 {
		l.Info("Stop-loss enabled without a positive percentage; skipping")
		return nil
	}

	open, err := e.deps.Store.OpenTrades(ctx, bot.ID)
	if err != nil {
		return err
	}
	batch := losingTrades(bot, tick, open)
	if len(batch) == 0 {
		l.Debug("No trade past stop-loss")
		return nil
	}

	info, err := e.deps.Symbols.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return fmt.Errorf("symbol info: %w", err)
	}
	qty := consolidatedQuantity(batch, info.StepSize)
	if qty <= 0 || qty < info.MinQuantity {
		l.Info("Stop-loss quantity below symbol minimum",
			zap.Int("trades", len(batch)),
			zap.Float64("quantity", qty),
			zap.Float64("min_quantity", info.MinQuantity))
		return nil
	}

	price := tick.Bid
	if !bot.IsLong {
		price = tick.Ask
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	order, err := e.deps.placeOrder(ctx, engineStopLoss, bot, price, qty, bot.ExitSide(), models.OrderTypeMarket)
	if err != nil {
		l.Error("Stop-loss order failed", zap.Int("trades", len(batch)), zap.Error(err))
		return fmt.Errorf("place stop-loss order: %w", err)
	}

	pctx := persistCtx(ctx)
	err = e.deps.Store.Transaction(pctx, func(tx store.Store) error {
		return recordExit(pctx, tx, order, batch, true, l)
	})
	if err != nil {
		l.Error("Failed to persist stop-loss order", zap.Stringp("exchange_order_id", order.ExchangeOrderID), zap.Error(err))
		return err
	}
	l.Warn("Stop-loss triggered",
		zap.Int("trades", len(batch)),
		zap.Float64("price", price),
		zap.Float64("quantity", qty))
	e.deps.Notifier.NotifyOrderUpdated(ctx, order.ID)
	return nil
}
