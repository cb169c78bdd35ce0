package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/jobs"
	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/trader"
)

const defaultLimit = 100

type tickerRequest struct {
	Symbol    string    `json:"symbol" binding:"required"`
	Bid       float64   `json:"bid" binding:"gt=0"`
	Ask       float64   `json:"ask" binding:"gt=0"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) submitTickerHandler(c *gin.Context) {
	var req tickerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Ask < req.Bid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ask below bid"})
		return
	}
	tick := models.Ticker{Symbol: req.Symbol, Bid: req.Bid, Ask: req.Ask, Last: req.Last, Timestamp: req.Timestamp.UTC()}
	if req.Timestamp.IsZero() {
		tick.Timestamp = s.clock.Now()
	}
	s.respondQueued(c, s.engine.SubmitTicker(tick))
}

func validStatus(status models.OrderStatus) bool {
	switch status {
	case models.OrderStatusNew, models.OrderStatusPartiallyFilled, models.OrderStatusFilled, models.OrderStatusCanceled:
		return true
	}
	return false
}

func (s *Server) submitOrderUpdateHandler(c *gin.Context) {
	var update trader.OrderUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validStatus(update.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown order status " + string(update.Status)})
		return
	}
	if update.FilledQuantity < 0 || update.FeeDelta < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantities must not be negative"})
		return
	}
	s.respondQueued(c, s.engine.SubmitOrderUpdate(update))
}

func (s *Server) respondQueued(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	case errors.Is(err, jobs.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, jobs.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func queryUint(c *gin.Context, key string) (uint, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// tradesHandler returns historical trades, most recent first.
func (s *Server) tradesHandler(c *gin.Context) {
	botID, ok := queryUint(c, "bot_id")
	limit, okLimit := queryLimit(c)
	if !ok || !okLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot_id or limit"})
		return
	}
	trades, err := s.store.Trades(c.Request.Context(), botID, limit)
	if err != nil {
		s.logger.Error("Failed to get trades from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get trades"})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) tickerHistoryHandler(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	tickers, err := s.store.Tickers(c.Request.Context(), c.Param("symbol"), limit)
	if err != nil {
		s.logger.Error("Failed to get tickers from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get tickers"})
		return
	}
	c.JSON(http.StatusOK, tickers)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	StopLossTrades   int64   `json:"stop_loss_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

func (d *StatsDetail) add(t models.Trade) {
	d.TotalTrades++
	if *t.Profit > 0 {
		d.ProfitableTrades++
	}
	if t.IsStopLoss {
		d.StopLossTrades++
	}
	d.TotalProfit += *t.Profit
}

func (d *StatsDetail) finish() {
	if d.TotalTrades > 0 {
		d.WinRate = float64(d.ProfitableTrades) / float64(d.TotalTrades)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	OpenTrades int64       `json:"open_trades"`
	Since24h   StatsDetail `json:"since_24h"`
	AllTime    StatsDetail `json:"all_time"`
}

// Statistics folds closed trades into 24h and all-time summaries; a trade's close time is its last update.
func Statistics(trades []models.Trade, now time.Time) StatisticsResponse {
	var resp StatisticsResponse
	since24h := now.Add(-24 * time.Hour)
	for _, t := range trades {
		if t.Profit == nil {
			if t.IsOpen() {
				resp.OpenTrades++
			}
			continue
		}
		resp.AllTime.add(t)
		if t.UpdatedAt.After(since24h) {
			resp.Since24h.add(t)
		}
	}
	resp.AllTime.finish()
	resp.Since24h.finish()
	return resp
}

func (s *Server) statisticsHandler(c *gin.Context) {
	botID, ok := queryUint(c, "bot_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot_id"})
		return
	}
	trades, err := s.store.Trades(c.Request.Context(), botID, 0)
	if err != nil {
		s.logger.Error("Failed to get trades for statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to calculate statistics"})
		return
	}
	c.JSON(http.StatusOK, Statistics(trades, s.clock.Now()))
}
