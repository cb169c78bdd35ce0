package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/api"
	"ladder-trade-bot-go/internal/clock"
	"ladder-trade-bot-go/internal/config"
	"ladder-trade-bot-go/internal/database"
	"ladder-trade-bot-go/internal/exchange"
	"ladder-trade-bot-go/internal/feed"
	"ladder-trade-bot-go/internal/logger"
	"ladder-trade-bot-go/internal/notify"
	"ladder-trade-bot-go/internal/store"
	"ladder-trade-bot-go/internal/symbols"
	"ladder-trade-bot-go/internal/trader"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, level, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	config.WatchLogLevel(func(text string) {
		if err := logger.SetLevel(level, text); err != nil {
			log.Warn("Ignoring invalid log level", zap.String("level", text), zap.Error(err))
			return
		}
		log.Info("Log level changed", zap.String("level", text))
	})
	log.Info("Configuration loaded", zap.String("driver", cfg.Exchange.Driver), zap.Bool("dry_run", cfg.Trading.DryRun))

	// Initialize database
	db, err := database.NewDatabase(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	st := store.New(db)

	// Initialize the exchange gateway
	gateway, err := exchange.New(&cfg, log)
	if err != nil {
		log.Fatal("Failed to create exchange gateway", zap.Error(err))
	}
	if p, ok := gateway.(exchange.Pinger); ok {
		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatal("Failed to connect to Binance API", zap.Error(err))
		}
		log.Info("Successfully connected to Binance API.")
	}

	notifier := notify.New(cfg.Notify, log)
	if w, ok := notifier.(*notify.WebhookNotifier); ok {
		defer w.Wait()
	}

	// Cancelled on SIGINT/SIGTERM; the engine then drains its queue.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := trader.NewEngine(log, &cfg, trader.Deps{
		Store:    st,
		Gateway:  gateway,
		Symbols:  symbols.NewCache(gateway),
		Notifier: notifier,
		Clock:    clock.System{},
	})

	server := api.NewServer(cfg.Server.Port, st, engine, clock.System{}, log)
	server.Start()

	if cfg.Feed.Enabled {
		go func() {
			if err := feed.New(cfg.Feed, st, engine, log).Run(ctx); err != nil {
				log.Error("Ticker feed stopped", zap.Error(err))
			}
		}()
	}

	if err := engine.Run(ctx); err != nil {
		log.Error("Engine did not drain cleanly", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
