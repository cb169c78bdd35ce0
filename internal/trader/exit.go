package trader

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/quantity"
	"ladder-trade-bot-go/internal/store"
)

const engineExit = "exit"

// ExitEngine takes profit on open trades whose entry has moved favorably by the exit step.
type ExitEngine struct {
	deps   Deps
	logger *zap.Logger
}

func NewExitEngine(deps Deps) *ExitEngine {
	deps = deps.withDefaults()
	return &ExitEngine{deps: deps, logger: deps.Logger.Named("exit")}
}

func (e *ExitEngine) Name() string { return engineExit }

func (e *ExitEngine) Handle(ctx context.Context, tick *models.Ticker, bots []models.Bot) Result {
	return forEachBot(ctx, engineExit, e.deps.Workers, bots, func(ctx context.Context, bot *models.Bot) error {
		return e.handleBot(ctx, tick, bot)
	})
}

type exitCandidate struct {
	trade models.Trade
	price float64
	qty   float64
}

// exitCandidates returns the trades ready for profit taking, oldest entry first, with their exit price.
func exitCandidates(bot *models.Bot, tick *models.Ticker, open []models.Trade) []exitCandidate {
	var out []exitCandidate
	for _, t := range open {
		if !entryFilled(t.EntryOrder) {
			continue
		}
		entry := t.EntryOrder.EffectivePrice()
		step := quantity.Step(bot.ExitStep, bot.ExitStepPercent, entry)
		if step <= 0 {
			continue
		}
		threshold := quantity.ExitThreshold(entry, step, bot.IsLong)
		market := tick.Ask
		if !bot.IsLong {
			market = tick.Bid
		}
		if (bot.IsLong && market < threshold) || (!bot.IsLong && market > threshold) {
			continue
		}
		out = append(out, exitCandidate{
			trade: t,
			price: quantity.ExitPrice(threshold, market, bot.IsLong),
			qty:   t.EntryOrder.FilledQuantity,
		})
	}
	return out
}

func (e *ExitEngine) handleBot(ctx context.Context, tick *models.Ticker, bot *models.Bot) error {
	l := e.logger.With(zap.Uint("bot_id", bot.ID), zap.String("symbol", bot.Symbol))
	open, err := e.deps.Store.OpenTrades(ctx, bot.ID)
	if err != nil {
		return err
	}
	candidates := exitCandidates(bot, tick, open)
	if len(candidates) == 0 {
		l.Debug("No trade reached its exit")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if bot.PlaceOrdersInAdvance {
		return e.placeConcurrently(ctx, l, bot, candidates)
	}
	return e.placeSequentially(ctx, l, bot, candidates)
}

func (e *ExitEngine) orderType(bot *models.Bot) models.OrderType {
	if bot.ExitOrderType == models.OrderTypeMarket {
		return models.OrderTypeMarket
	}
	return models.OrderTypeLimit
}

// placeConcurrently places one exit per candidate at once, then records each accepted order.
func (e *ExitEngine) placeConcurrently(ctx context.Context, l *zap.Logger, bot *models.Bot, candidates []exitCandidate) error {
	orders := make([]*models.Order, len(candidates))
	errs := make([]error, len(candidates))

	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c exitCandidate) {
			defer wg.Done()
			orders[i], errs[i] = e.deps.placeOrder(ctx, engineExit, bot, c.price, c.qty, bot.ExitSide(), e.orderType(bot))
			if errs[i] != nil {
				errs[i] = fmt.Errorf("trade %d: %w", c.trade.ID, errs[i])
			}
		}(i, c)
	}
	wg.Wait()

	// Each accepted exit is recorded on its own so one bad record cannot drop the others.
	pctx := persistCtx(ctx)
	for i, order := range orders {
		c := candidates[i]
		if order == nil {
			l.Error("Exit order failed", zap.Uint("trade_id", c.trade.ID), zap.Error(errs[i]))
			continue
		}
		err := e.deps.Store.Transaction(pctx, func(tx store.Store) error {
			return recordExit(pctx, tx, order, []models.Trade{c.trade}, false, l)
		})
		if err != nil {
			l.Warn("Exit order accepted but not recorded",
				zap.Uint("trade_id", c.trade.ID),
				zap.Stringp("exchange_order_id", order.ExchangeOrderID),
				zap.Error(err))
			errs[i] = fmt.Errorf("trade %d: record exit: %w", c.trade.ID, err)
			continue
		}
		e.logPlaced(ctx, l, c, order)
	}
	return multierr.Combine(errs...)
}

// placeSequentially walks the candidates oldest first, persisting each exit before the next
// and stopping at the first failure.
func (e *ExitEngine) placeSequentially(ctx context.Context, l *zap.Logger, bot *models.Bot, candidates []exitCandidate) error {
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		order, err := e.deps.placeOrder(ctx, engineExit, bot, c.price, c.qty, bot.ExitSide(), e.orderType(bot))
		if err != nil {
			l.Error("Exit order failed", zap.Uint("trade_id", c.trade.ID), zap.Error(err))
			return fmt.Errorf("trade %d: %w", c.trade.ID, err)
		}
		pctx := persistCtx(ctx)
		err = e.deps.Store.Transaction(pctx, func(tx store.Store) error {
			return recordExit(pctx, tx, order, []models.Trade{c.trade}, false, l)
		})
		if err != nil {
			l.Error("Failed to persist exit order",
				zap.Uint("trade_id", c.trade.ID),
				zap.Stringp("exchange_order_id", order.ExchangeOrderID),
				zap.Error(err))
			return err
		}
		e.logPlaced(ctx, l, c, order)
	}
	return nil
}

func (e *ExitEngine) logPlaced(ctx context.Context, l *zap.Logger, c exitCandidate, order *models.Order) {
	l.Info("Exit order placed",
		zap.Uint("trade_id", c.trade.ID),
		zap.Float64("entry_price", c.trade.EntryOrder.EffectivePrice()),
		zap.Float64("price", order.Price),
		zap.Float64("quantity", order.Quantity))
	e.deps.Notifier.NotifyOrderUpdated(ctx, order.ID)
}
