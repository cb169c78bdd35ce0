package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/quantity"
)

const sdkTestnetURL = "https://testnet.binance.vision"

// SDKGateway talks to Binance through go-binance, one client per bot credential pair.
type SDKGateway struct {
	testnet bool
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]*gobinance.Client
	public  *gobinance.Client
}

var _ Gateway = (*SDKGateway)(nil)

func NewSDKGateway(testnet bool, logger *zap.Logger) *SDKGateway {
	g := &SDKGateway{
		testnet: testnet,
		logger:  logger.Named("binance-sdk"),
		clients: make(map[string]*gobinance.Client),
	}
	g.public = g.newClient("", "")
	return g
}

func (g *SDKGateway) newClient(apiKey, secretKey string) *gobinance.Client {
	c := gobinance.NewClient(apiKey, secretKey)
	if g.testnet {
		c.BaseURL = sdkTestnetURL
	}
	return c
}

func (g *SDKGateway) clientFor(bot *models.Bot) *gobinance.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := bot.ApiKey + ":" + bot.SecretKey
	c, ok := g.clients[key]
	if !ok {
		c = g.newClient(bot.ApiKey, bot.SecretKey)
		g.clients[key] = c
	}
	return c
}

func wrapAPIError(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: binance api error %d: %s: %w", op, apiErr.Code, apiErr.Message, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (g *SDKGateway) PlaceOrder(ctx context.Context, bot *models.Bot, price, qty float64, isBuy bool, orderType models.OrderType) (*models.Order, error) {
	sideType := gobinance.SideTypeSell
	if isBuy {
		sideType = gobinance.SideTypeBuy
	}
	clientID := newClientOrderID()
	svc := g.clientFor(bot).NewCreateOrderService().
		Symbol(bot.Symbol).
		Side(sideType).
		Quantity(quantity.Format(qty)).
		NewClientOrderID(clientID).
		NewOrderRespType(gobinance.NewOrderRespTypeFULL)
	if orderType == models.OrderTypeMarket {
		svc = svc.Type(gobinance.OrderTypeMarket)
	} else {
		svc = svc.Type(gobinance.OrderTypeLimit).TimeInForce(gobinance.TimeInForceTypeGTC).Price(quantity.Format(price))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapAPIError("create order", err)
	}
	g.logger.Info("Order accepted",
		zap.String("symbol", bot.Symbol),
		zap.Int64("order_id", resp.OrderID),
		zap.String("status", string(resp.Status)))

	commissions := make([]string, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		commissions = append(commissions, f.Commission)
	}
	executed, avg, fee := fillState(resp.ExecutedQuantity, resp.CummulativeQuoteQuantity, commissions)
	return &models.Order{
		Symbol:           bot.Symbol,
		Side:             side(isBuy),
		Type:             orderType,
		Price:            price,
		Quantity:         qty,
		FilledQuantity:   executed,
		Fee:              fee,
		Status:           ParseStatus(string(resp.Status), executed),
		ExchangeOrderID:  exchangeID(resp.OrderID),
		ClientOrderID:    clientID,
		AverageFillPrice: avg,
	}, nil
}

func (g *SDKGateway) GetOrderStatus(ctx context.Context, order *models.Order, bot *models.Bot) (*models.Order, error) {
	id, err := parseExchangeID(order)
	if err != nil {
		return nil, err
	}
	resp, err := g.clientFor(bot).NewGetOrderService().Symbol(order.Symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, wrapAPIError("get order", err)
	}
	return refreshed(order, string(resp.Status), resp.ExecutedQuantity, resp.CummulativeQuoteQuantity), nil
}

func (g *SDKGateway) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	info, err := g.public.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.SymbolInfo{}, wrapAPIError("exchange info", err)
	}
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		lot := s.LotSizeFilter()
		if lot == nil {
			return models.SymbolInfo{}, fmt.Errorf("%s has no LOT_SIZE filter: %w", symbol, ErrUnknownSymbol)
		}
		return models.SymbolInfo{Symbol: symbol, MinQuantity: parseFloat(lot.MinQuantity), StepSize: parseFloat(lot.StepSize)}, nil
	}
	return models.SymbolInfo{}, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
}
