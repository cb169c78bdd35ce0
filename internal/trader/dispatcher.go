package trader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/metrics"
	"ladder-trade-bot-go/internal/models"
)

// Handler is one engine's reaction to a ticker for the bots trading its symbol.
type Handler interface {
	Name() string
	Handle(ctx context.Context, tick *models.Ticker, bots []models.Bot) Result
}

// Dispatcher runs the engines in a fixed order for every ticker.
type Dispatcher struct {
	deps     Deps
	handlers []Handler
	logger   *zap.Logger
}

// NewDispatcher wires the entry, exit and stop-loss engines, in that order.
func NewDispatcher(deps Deps) *Dispatcher {
	deps = deps.withDefaults()
	return NewDispatcherWith(deps, NewEntryEngine(deps), NewExitEngine(deps), NewStopLossEngine(deps))
}

// NewDispatcherWith uses the given handlers in order.
func NewDispatcherWith(deps Deps, handlers ...Handler) *Dispatcher {
	deps = deps.withDefaults()
	return &Dispatcher{deps: deps, handlers: handlers, logger: deps.Logger.Named("dispatcher")}
}

// Dispatch records tick and hands it to each engine. A failing engine never stops the next one.
func (d *Dispatcher) Dispatch(ctx context.Context, tick *models.Ticker) (res Result) {
	res.Engine = "dispatch"
	start := time.Now()
	l := d.logger.With(zap.String("symbol", tick.Symbol))
	defer func() {
		if r := recover(); r != nil {
			res.add(fmt.Errorf("dispatch %s: panic: %v", tick.Symbol, r))
			l.Error("Dispatch panicked", zap.Any("panic", r))
		}
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	if tick.Timestamp.IsZero() {
		tick.Timestamp = d.deps.Clock.Now()
	}
	if err := d.deps.Store.SaveTicker(ctx, tick); err != nil {
		l.Error("Failed to record ticker", zap.Error(err))
		res.add(err)
	}

	bots, err := d.deps.Store.EnabledBotsBySymbol(ctx, tick.Symbol)
	if err != nil {
		l.Error("Failed to load bots", zap.Error(err))
		res.add(err)
		return res
	}
	if len(bots) == 0 {
		l.Debug("No enabled bots for symbol")
		return res
	}

	for _, h := range d.handlers {
		r := h.Handle(ctx, tick, bots)
		if !r.Success() {
			l.Error("Engine reported errors", zap.String("engine", h.Name()), zap.Error(r.Err()))
		}
		res.merge(r)
	}
	return res
}
