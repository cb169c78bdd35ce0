// Package exchange adapts exchange connectivity to the engines' order model.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/binance"
	"ladder-trade-bot-go/internal/config"
	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/quantity"
)

var (
	// ErrUnknownSymbol is returned when the exchange has no trading rules for a symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrMissingOrderID is returned when an order has no exchange identifier to query by.
	ErrMissingOrderID = errors.New("order has no exchange id")
)

// Gateway places and queries orders on behalf of a bot.
// Implementations must be safe for concurrent use across bots.
type Gateway interface {
	PlaceOrder(ctx context.Context, bot *models.Bot, price, qty float64, isBuy bool, orderType models.OrderType) (*models.Order, error)
	GetOrderStatus(ctx context.Context, order *models.Order, bot *models.Bot) (*models.Order, error)
	SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error)
}

// Pinger is implemented by gateways that can check connectivity before trading starts.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New builds the gateway selected by cfg.Exchange.Driver; dry runs always use the paper gateway.
func New(cfg *config.Config, logger *zap.Logger) (Gateway, error) {
	if cfg.Trading.DryRun {
		logger.Warn("Dry run enabled. Orders are simulated.")
		return NewPaperGateway(nil), nil
	}
	switch cfg.Exchange.Driver {
	case "rest":
		return NewRestGateway(binance.NewRestClient(&cfg.Binance, logger)), nil
	case "sdk":
		return NewSDKGateway(cfg.Binance.Testnet, logger), nil
	case "paper":
		return NewPaperGateway(nil), nil
	default:
		return nil, fmt.Errorf("unknown exchange driver %q", cfg.Exchange.Driver)
	}
}

func side(isBuy bool) models.OrderSide {
	if isBuy {
		return models.OrderSideBuy
	}
	return models.OrderSideSell
}

func newClientOrderID() string {
	return "ltb-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// ParseStatus maps an exchange status string onto the order lifecycle.
func ParseStatus(status string, executed float64) models.OrderStatus {
	switch strings.ToUpper(status) {
	case "FILLED":
		return models.OrderStatusFilled
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartiallyFilled
	case "CANCELED", "CANCELLED", "EXPIRED", "EXPIRED_IN_MATCH", "REJECTED":
		return models.OrderStatusCanceled
	default:
		if executed > 0 {
			return models.OrderStatusPartiallyFilled
		}
		return models.OrderStatusNew
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// fillState derives filled quantity, average price and fee from raw exchange strings.
func fillState(executedQty, cumQuote string, commissions []string) (float64, *float64, float64) {
	executed := parseFloat(executedQty)
	var avg *float64
	if quote := parseFloat(cumQuote); executed > 0 && quote > 0 {
		v := quote / executed
		avg = &v
	}
	fees := make([]float64, 0, len(commissions))
	for _, c := range commissions {
		fees = append(fees, parseFloat(c))
	}
	return executed, avg, quantity.Sum(fees...)
}

func exchangeID(id int64) *string {
	s := strconv.FormatInt(id, 10)
	return &s
}

func parseExchangeID(order *models.Order) (int64, error) {
	if order.ExchangeOrderID == nil || *order.ExchangeOrderID == "" {
		return 0, ErrMissingOrderID
	}
	id, err := strconv.ParseInt(*order.ExchangeOrderID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid exchange order id %q: %w", *order.ExchangeOrderID, err)
	}
	return id, nil
}

// refreshed copies order and overlays the exchange-reported execution state.
func refreshed(order *models.Order, status string, executedQty, cumQuote string) *models.Order {
	updated := *order
	executed, avg, _ := fillState(executedQty, cumQuote, nil)
	updated.Status = ParseStatus(status, executed)
	updated.FilledQuantity = executed
	if avg != nil {
		updated.AverageFillPrice = avg
	}
	return &updated
}
