package trader

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/metrics"
	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/store"
)

// DefaultStaleThreshold is how long a non-terminal order may go without an update before it is polled.
const DefaultStaleThreshold = 10 * time.Minute

// Reconciler refreshes stale orders from the exchange.
type Reconciler struct {
	deps      Deps
	threshold time.Duration
	logger    *zap.Logger
}

func NewReconciler(deps Deps, threshold time.Duration) *Reconciler {
	deps = deps.withDefaults()
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return &Reconciler{deps: deps, threshold: threshold, logger: deps.Logger.Named("reconcile")}
}

// Reconcile polls every non-terminal order last updated before now-threshold and returns how many were refreshed.
// An order whose query fails is touched so it waits a full threshold before the next attempt.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	now := r.deps.Clock.Now()
	stale, err := r.deps.Store.StaleOrders(ctx, now.Add(-r.threshold))
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	byBot := make(map[uint][]models.Order)
	var ids []uint
	for _, o := range stale {
		if _, ok := byBot[o.BotID]; !ok {
			ids = append(ids, o.BotID)
		}
		byBot[o.BotID] = append(byBot[o.BotID], o)
	}
	bots, err := r.deps.Store.BotsByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	known := make(map[uint]bool, len(bots))
	for _, b := range bots {
		known[b.ID] = true
	}
	for _, id := range ids {
		if known[id] {
			continue
		}
		for _, o := range byBot[id] {
			r.logger.Warn("Stale order belongs to unknown bot", zap.Uint("order_id", o.ID), zap.Uint("bot_id", id))
			if err := r.deps.Store.TouchOrder(ctx, o.ID, now); err != nil {
				return 0, err
			}
			metrics.Reconciled.WithLabelValues("failed").Inc()
		}
	}

	var updated, failed atomic.Int64
	res := forEachBot(ctx, "reconcile", r.deps.Workers, bots, func(ctx context.Context, bot *models.Bot) error {
		for i := range byBot[bot.ID] {
			ok, err := r.refresh(ctx, bot, &byBot[bot.ID][i], now)
			if err != nil {
				return err
			}
			if ok {
				updated.Add(1)
			} else {
				failed.Add(1)
			}
		}
		return nil
	})

	r.logger.Info("Reconciliation finished",
		zap.Int("stale", len(stale)),
		zap.Int64("updated", updated.Load()),
		zap.Int64("failed", failed.Load()))
	return int(updated.Load()), res.Err()
}

// refresh reports false when the exchange query failed; the returned error is a persistence failure.
func (r *Reconciler) refresh(ctx context.Context, bot *models.Bot, order *models.Order, now time.Time) (bool, error) {
	l := r.logger.With(zap.Uint("bot_id", bot.ID), zap.Uint("order_id", order.ID))
	fresh, err := r.deps.Gateway.GetOrderStatus(ctx, order, bot)
	if err != nil {
		l.Warn("Order status query failed; backing off", zap.Error(err))
		metrics.Reconciled.WithLabelValues("failed").Inc()
		if err := r.deps.Store.TouchOrder(persistCtx(ctx), order.ID, now); err != nil {
			return false, fmt.Errorf("touch order %d: %w", order.ID, err)
		}
		return false, nil
	}

	previous := order.Status
	pctx := persistCtx(ctx)
	err = r.deps.Store.Transaction(pctx, func(tx store.Store) error {
		order.Status = fresh.Status
		order.FilledQuantity = fresh.FilledQuantity
		if fresh.AverageFillPrice != nil {
			order.AverageFillPrice = fresh.AverageFillPrice
		}
		order.LastUpdated = now
		if err := tx.SaveOrder(pctx, order); err != nil {
			return err
		}
		return settle(pctx, tx, order, previous, r.logger)
	})
	if err != nil {
		return false, err
	}

	metrics.Reconciled.WithLabelValues("updated").Inc()
	if order.Status != previous {
		l.Info("Order reconciled", zap.String("from", string(previous)), zap.String("to", string(order.Status)))
		r.deps.Notifier.NotifyOrderUpdated(ctx, order.ID)
	}
	return true, nil
}
