// Package feed streams top-of-book tickers from the Binance websocket API into the engine.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/config"
	"ladder-trade-bot-go/internal/jobs"
	"ladder-trade-bot-go/internal/models"
)

const readTimeout = 45 * time.Second

// Submitter accepts tickers for asynchronous processing.
type Submitter interface {
	SubmitTicker(tick models.Ticker) error
}

// SymbolSource lists the symbols to subscribe to.
type SymbolSource interface {
	EnabledSymbols(ctx context.Context) ([]string, error)
}

// Feed keeps one combined-stream connection open, reconnecting with exponential backoff.
type Feed struct {
	cfg     config.Feed
	symbols SymbolSource
	sink    Submitter
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

func New(cfg config.Feed, symbols SymbolSource, sink Submitter, logger *zap.Logger) *Feed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxBackoff < cfg.ReconnectDelay {
		cfg.MaxBackoff = cfg.ReconnectDelay
	}
	return &Feed{
		cfg:     cfg,
		symbols: symbols,
		sink:    sink,
		dialer:  websocket.DefaultDialer,
		logger:  logger.Named("feed"),
	}
}

// StreamURL builds the combined @ticker stream URL for symbols.
func StreamURL(base string, symbols []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@ticker")
	}
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// ParseTicker extracts a ticker from a combined-stream or raw @ticker message.
func ParseTicker(msg []byte) (models.Ticker, bool) {
	if !gjson.ValidBytes(msg) {
		return models.Ticker{}, false
	}
	payload := gjson.GetBytes(msg, "data")
	if !payload.Exists() {
		payload = gjson.ParseBytes(msg)
	}
	fields := gjson.GetMany(payload.Raw, "s", "b", "a", "c", "E")
	tick := models.Ticker{
		Symbol: fields[0].String(),
		Bid:    fields[1].Float(),
		Ask:    fields[2].Float(),
		Last:   fields[3].Float(),
	}
	if ms := fields[4].Int(); ms > 0 {
		tick.Timestamp = time.UnixMilli(ms).UTC()
	}
	if tick.Symbol == "" || tick.Bid <= 0 || tick.Ask <= 0 {
		return models.Ticker{}, false
	}
	return tick, true
}

// Run blocks until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	backoff := f.cfg.ReconnectDelay
	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = f.cfg.ReconnectDelay
		}
		f.logger.Warn("Ticker stream interrupted, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.cfg.MaxBackoff {
			backoff = f.cfg.MaxBackoff
		}
	}
}

// session runs one connection; connected reports whether the dial succeeded.
func (f *Feed) session(ctx context.Context) (connected bool, err error) {
	symbols, err := f.symbols.EnabledSymbols(ctx)
	if err != nil {
		return false, fmt.Errorf("load symbols: %w", err)
	}
	if len(symbols) == 0 {
		return false, errors.New("no enabled bots to stream for")
	}
	streamURL, err := StreamURL(f.cfg.URL, symbols)
	if err != nil {
		return false, err
	}

	conn, _, err := f.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	f.logger.Info("Subscribed to ticker stream", zap.Strings("symbols", symbols))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		tick, ok := ParseTicker(msg)
		if !ok {
			f.logger.Debug("Ignoring stream message", zap.ByteString("message", msg))
			continue
		}
		if err := f.sink.SubmitTicker(tick); err != nil {
			if errors.Is(err, jobs.ErrQueueClosed) {
				return true, err
			}
			f.logger.Warn("Ticker dropped", zap.String("symbol", tick.Symbol), zap.Error(err))
		}
	}
}
