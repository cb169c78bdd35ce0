package trader

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/quantity"
	"ladder-trade-bot-go/internal/store"
)

const engineEntry = "entry"

// EntryEngine opens and ladders positions.
type EntryEngine struct {
	deps   Deps
	logger *zap.Logger
}

func NewEntryEngine(deps Deps) *EntryEngine {
	deps = deps.withDefaults()
	return &EntryEngine{deps: deps, logger: deps.Logger.Named("entry")}
}

func (e *EntryEngine) Name() string { return engineEntry }

// Handle evaluates every bot against tick and places the entry orders they qualify for.
func (e *EntryEngine) Handle(ctx context.Context, tick *models.Ticker, bots []models.Bot) Result {
	return forEachBot(ctx, engineEntry, e.deps.Workers, bots, func(ctx context.Context, bot *models.Bot) error {
		return e.handleBot(ctx, tick, bot)
	})
}

type entryPlan struct {
	price float64
	qty   float64
}

// withinBounds applies the optional price band; long bots check ask against max and
// bid against min, short bots the other way round.
func withinBounds(bot *models.Bot, tick *models.Ticker) bool {
	upper, lower := tick.Ask, tick.Bid
	if !bot.IsLong {
		upper, lower = tick.Bid, tick.Ask
	}
	if bot.MaxPrice != nil && upper > *bot.MaxPrice {
		return false
	}
	if bot.MinPrice != nil && lower < *bot.MinPrice {
		return false
	}
	return true
}

// worstEntry is the highest entry price of a long ladder, the lowest of a short one.
func worstEntry(trades []models.Trade, isLong bool) float64 {
	var worst float64
	for i, t := range trades {
		p := t.EntryOrder.EffectivePrice()
		if i == 0 || (isLong && p > worst) || (!isLong && p < worst) {
			worst = p
		}
	}
	return worst
}

func committedVolume(trades []models.Trade) float64 {
	volumes := make([]float64, 0, len(trades))
	for _, t := range trades {
		volumes = append(volumes, t.EntryOrder.Quantity)
	}
	return quantity.Sum(volumes...)
}

// entryQuantity sizes the next entry: the base quantity with no open trades, the ladder delta otherwise.
func entryQuantity(bot *models.Bot, tick *models.Ticker, open []models.Trade) float64 {
	if len(open) == 0 {
		return bot.EntryQuantity
	}
	worst := worstEntry(open, bot.IsLong)
	current := tick.Ask
	if !bot.IsLong {
		current = tick.Bid
	}
	step := quantity.Step(bot.EntryStep, bot.EntryStepPercent, worst)
	distance := quantity.Distance(current, worst, bot.IsLong)
	return quantity.LadderDelta(distance, step, bot.EntryQuantity, committedVolume(open))
}

func (e *EntryEngine) handleBot(ctx context.Context, tick *models.Ticker, bot *models.Bot) error {
	l := e.logger.With(zap.Uint("bot_id", bot.ID), zap.String("symbol", bot.Symbol))
	if !bot.Enabled {
		l.Debug("Bot disabled")
		return nil
	}
	if !withinBounds(bot, tick) {
		l.Debug("Price outside bot bounds", zap.Float64("bid", tick.Bid), zap.Float64("ask", tick.Ask))
		return nil
	}

	open, err := e.deps.Store.OpenTrades(ctx, bot.ID)
	if err != nil {
		return err
	}
	if bot.PlaceOrdersInAdvance && len(open) >= bot.MaxAdvanceOrders {
		l.Debug("Advance order limit reached", zap.Int("open_trades", len(open)))
		return nil
	}

	qty := entryQuantity(bot, tick, open)
	if qty <= 0 {
		l.Debug("No ladder step crossed", zap.Float64("delta", qty))
		return nil
	}

	info, err := e.deps.Symbols.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return fmt.Errorf("symbol info: %w", err)
	}
	qty = quantity.RoundDownToStep(qty, info.StepSize)
	if qty <= 0 || qty < info.MinQuantity {
		l.Info("Entry quantity below symbol minimum", zap.Float64("quantity", qty), zap.Float64("min_quantity", info.MinQuantity))
		return nil
	}

	price := tick.Bid
	if !bot.IsLong {
		price = tick.Ask
	}
	plans := []entryPlan{{price: price, qty: qty}}
	if bot.PlaceOrdersInAdvance {
		step := quantity.Step(bot.EntryStep, bot.EntryStepPercent, price)
		base := quantity.RoundDownToStep(bot.EntryQuantity, info.StepSize)
		// Further orders sit below the market for long bots and above it for short ones.
		for i := 1; i <= bot.MaxAdvanceOrders-len(open) && step > 0 && base >= info.MinQuantity && base > 0; i++ {
			plans = append(plans, entryPlan{price: quantity.Offset(price, step, i, -bot.Direction()), qty: base})
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	orders, err := e.placeAll(ctx, bot, plans)
	if err != nil {
		return err
	}

	var trades []models.Trade
	pctx := persistCtx(ctx)
	err = e.deps.Store.Transaction(pctx, func(tx store.Store) error {
		var err error
		if trades, err = tx.CreateEntryTrades(pctx, orders); err != nil {
			return err
		}
		for _, t := range trades {
			if err := settle(pctx, tx, t.EntryOrder, models.OrderStatusNew, l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.Error("Failed to persist entry trades", zap.Error(err))
		return err
	}
	for _, t := range trades {
		l.Info("Entry order placed",
			zap.Uint("trade_id", t.ID),
			zap.Float64("price", t.EntryOrder.Price),
			zap.Float64("quantity", t.EntryOrder.Quantity))
		e.deps.Notifier.NotifyOrderUpdated(ctx, t.EntryOrderID)
	}
	return nil
}

// placeAll places every planned order concurrently. If any placement fails no order is returned.
func (e *EntryEngine) placeAll(ctx context.Context, bot *models.Bot, plans []entryPlan) ([]*models.Order, error) {
	orders := make([]*models.Order, len(plans))
	errs := make([]error, len(plans))

	var g errgroup.Group
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			orders[i], errs[i] = e.deps.placeOrder(ctx, engineEntry, bot, plan.price, plan.qty, bot.EntrySide(), models.OrderTypeLimit)
			return nil
		})
	}
	_ = g.Wait()

	if err := multierr.Combine(errs...); err != nil {
		for _, o := range orders {
			if o != nil && o.ExchangeOrderID != nil {
				e.logger.Warn("Entry order accepted but batch failed; not recorded",
					zap.Uint("bot_id", bot.ID), zap.String("exchange_order_id", *o.ExchangeOrderID))
			}
		}
		return nil, fmt.Errorf("place entry orders: %w", err)
	}
	return orders, nil
}
