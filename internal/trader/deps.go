package trader

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/clock"
	"ladder-trade-bot-go/internal/exchange"
	"ladder-trade-bot-go/internal/metrics"
	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/notify"
	"ladder-trade-bot-go/internal/store"
	"ladder-trade-bot-go/internal/symbols"
)

// Deps provides the engines with access to the core components.
type Deps struct {
	Store    store.Store
	Gateway  exchange.Gateway
	Symbols  symbols.Source
	Notifier notify.Notifier
	Clock    clock.Clock
	Logger   *zap.Logger
	// Workers bounds per-bot parallelism; zero means runtime.NumCPU().
	Workers int
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Symbols == nil {
		d.Symbols = symbols.NewCache(d.Gateway)
	}
	if d.Workers <= 0 {
		d.Workers = runtime.NumCPU()
	}
	return d
}

// placeOrder sends one order and stamps the local bookkeeping fields on the result.
func (d Deps) placeOrder(ctx context.Context, engine string, bot *models.Bot, price, qty float64, side models.OrderSide, orderType models.OrderType) (*models.Order, error) {
	order, err := d.Gateway.PlaceOrder(ctx, bot, price, qty, side == models.OrderSideBuy, orderType)
	if err != nil {
		metrics.OrderErrors.WithLabelValues(engine).Inc()
		return nil, err
	}
	order.BotID = bot.ID
	order.Symbol = bot.Symbol
	order.Side = side
	order.Type = orderType
	if order.Status == "" {
		order.Status = models.OrderStatusNew
	}
	order.LastUpdated = d.Clock.Now()
	metrics.OrdersPlaced.WithLabelValues(engine, string(side), string(orderType)).Inc()
	return order, nil
}

// persistCtx keeps persistence of exchange-acknowledged orders alive past cancellation.
func persistCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// entryFilled reports whether an entry order holds a position that can be exited.
func entryFilled(order *models.Order) bool {
	if order == nil {
		return false
	}
	return order.Status == models.OrderStatusFilled ||
		(order.Status == models.OrderStatusCanceled && order.FilledQuantity > 0)
}
