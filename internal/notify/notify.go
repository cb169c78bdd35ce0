// Package notify pushes order lifecycle events to interested parties.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/config"
)

// Notifier delivers order events. Calls must not block the caller on delivery.
type Notifier interface {
	NotifyOrderUpdated(ctx context.Context, orderID uint)
}

// New returns a webhook notifier when a URL is configured, a log notifier otherwise.
func New(cfg config.Notify, logger *zap.Logger) Notifier {
	if cfg.WebhookURL == "" {
		return NewLogNotifier(logger)
	}
	return NewWebhookNotifier(cfg, logger)
}

// Nop discards every event.
type Nop struct{}

func (Nop) NotifyOrderUpdated(context.Context, uint) {}

// LogNotifier writes events to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) NotifyOrderUpdated(_ context.Context, orderID uint) {
	n.logger.Info("Order updated", zap.Uint("order_id", orderID))
}

// Event is the JSON body posted to the webhook.
type Event struct {
	Type    string    `json:"type"`
	OrderID uint      `json:"order_id"`
	At      time.Time `json:"at"`
}

// WebhookNotifier POSTs events asynchronously. Failures are logged and dropped.
type WebhookNotifier struct {
	client  *resty.Client
	url     string
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewWebhookNotifier(cfg config.Notify, logger *zap.Logger) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		client:  resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		url:     cfg.WebhookURL,
		timeout: timeout,
		logger:  logger.Named("notify"),
	}
}

func (n *WebhookNotifier) NotifyOrderUpdated(ctx context.Context, orderID uint) {
	event := Event{Type: "order_updated", OrderID: orderID, At: time.Now().UTC()}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.send(sendCtx, event); err != nil {
			n.logger.Warn("Webhook delivery failed", zap.Uint("order_id", orderID), zap.Error(err))
		}
	}()
}

func (n *WebhookNotifier) send(ctx context.Context, event Event) error {
	resp, err := n.client.R().SetContext(ctx).SetBody(event).Post(n.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	return nil
}

// Wait blocks until every in-flight delivery has finished.
func (n *WebhookNotifier) Wait() {
	n.wg.Wait()
}
