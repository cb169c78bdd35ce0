package trader

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/config"
	"ladder-trade-bot-go/internal/jobs"
	"ladder-trade-bot-go/internal/models"
)

const reconcileKey = "reconcile"

// Engine is the core trading engine: it queues tickers and order updates per symbol
// and periodically reconciles stale orders.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger     *zap.Logger
	cfg        *config.Config
	queue      *jobs.Queue
	dispatcher *Dispatcher
	updater    *OrderUpdater
	reconciler *Reconciler
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, deps Deps) *Engine {
	deps.Logger = logger
	deps.Workers = cfg.Engine.Workers
	deps = deps.withDefaults()
	return &Engine{
		UUID:       uuid.NewString(),
		Name:       "ladder-trade-bot",
		StartTime:  deps.Clock.Now(),
		logger:     logger.Named("engine"),
		cfg:        cfg,
		queue:      jobs.NewQueue(cfg.Engine.Workers, cfg.Engine.QueueBuffer, logger),
		dispatcher: NewDispatcher(deps),
		updater:    NewOrderUpdater(deps),
		reconciler: NewReconciler(deps, cfg.Engine.StaleThreshold),
	}
}

// Run starts the workers and the reconciliation schedule, and blocks until ctx is done.
// Queued work is drained for at most engine.shutdown_timeout before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.queue.Start(ctx)

	interval := e.cfg.Engine.ReconcileInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Engine started",
		zap.String("uuid", e.UUID),
		zap.Int("workers", e.queue.Workers()),
		zap.Duration("reconcile_interval", interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			timeout := e.cfg.Engine.ShutdownTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			return e.queue.Shutdown(shutdownCtx)
		case <-ticker.C:
			if err := e.TriggerReconcile(); err != nil {
				e.logger.Warn("Reconciliation not scheduled", zap.Error(err))
			}
		}
	}
}

// SubmitTicker queues tick on its symbol's lane.
func (e *Engine) SubmitTicker(tick models.Ticker) error {
	if tick.Symbol == "" {
		return errors.New("ticker has no symbol")
	}
	return e.queue.Enqueue(jobs.Job{
		Key:  tick.Symbol,
		Name: "tick",
		Run: func(ctx context.Context) error {
			return e.dispatcher.Dispatch(ctx, &tick).Err()
		},
	})
}

// SubmitOrderUpdate queues update behind the tickers of the same symbol.
func (e *Engine) SubmitOrderUpdate(update OrderUpdate) error {
	key := update.Symbol
	if key == "" {
		key = "order-updates"
	}
	return e.queue.Enqueue(jobs.Job{
		Key:  key,
		Name: "order_update",
		Run: func(ctx context.Context) error {
			err := e.updater.Apply(ctx, update)
			if errors.Is(err, ErrOrderNotFound) {
				e.logger.Warn("Order update for unknown order", zap.String("exchange_order_id", update.ExchangeOrderID))
				return nil
			}
			return err
		},
	})
}

// TriggerReconcile queues a reconciliation pass.
func (e *Engine) TriggerReconcile() error {
	return e.queue.Enqueue(jobs.Job{
		Key:  reconcileKey,
		Name: reconcileKey,
		Run: func(ctx context.Context) error {
			_, err := e.reconciler.Reconcile(ctx)
			return err
		},
	})
}

// Status is a snapshot of the engine for the API.
type Status struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	StartTime  string `json:"start_time"`
	Uptime     string `json:"uptime"`
	Workers    int    `json:"workers"`
	QueueDepth int    `json:"queue_depth"`
	DryRun     bool   `json:"dry_run"`
	Driver     string `json:"driver"`
}

func (e *Engine) Status() Status {
	return Status{
		UUID:       e.UUID,
		Name:       e.Name,
		StartTime:  e.StartTime.Format(time.RFC3339),
		Uptime:     time.Since(e.StartTime).Truncate(time.Second).String(),
		Workers:    e.queue.Workers(),
		QueueDepth: e.queue.Len(),
		DryRun:     e.cfg.Trading.DryRun,
		Driver:     e.cfg.Exchange.Driver,
	}
}
