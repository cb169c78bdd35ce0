// Package api exposes the engine and its records over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/clock"
	"ladder-trade-bot-go/internal/metrics"
	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/store"
	"ladder-trade-bot-go/internal/trader"
)

// Engine is the part of the trading engine the API drives.
type Engine interface {
	SubmitTicker(tick models.Ticker) error
	SubmitOrderUpdate(update trader.OrderUpdate) error
	Status() trader.Status
}

// Server provides an HTTP interface for the trading engine.
// With a nil engine only the read-only reporting routes are registered.
type Server struct {
	server *http.Server
	router *gin.Engine
	engine Engine
	store  store.Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewServer creates a new Server listening on port.
func NewServer(port int, st store.Store, engine Engine, clk clock.Clock, logger *zap.Logger) *Server {
	if clk == nil {
		clk = clock.System{}
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		server: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router, ReadHeaderTimeout: 10 * time.Second},
		router: router,
		engine: engine,
		store:  st,
		clock:  clk,
		logger: logger.Named("api-server"),
	}
	router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.router.Group("/api")
	api.GET("/trades", s.tradesHandler)
	api.GET("/statistics", s.statisticsHandler)
	api.GET("/tickers/:symbol", s.tickerHistoryHandler)

	if s.engine != nil {
		s.router.GET("/status", s.statusHandler)
		api.POST("/tickers", s.submitTickerHandler)
		api.POST("/order-updates", s.submitOrderUpdateHandler)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}
