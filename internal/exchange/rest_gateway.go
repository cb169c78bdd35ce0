package exchange

import (
	"context"
	"fmt"

	"ladder-trade-bot-go/internal/binance"
	"ladder-trade-bot-go/internal/models"
	"ladder-trade-bot-go/internal/quantity"
)

// RestGateway places orders through the signed REST client.
type RestGateway struct {
	client binance.RestClientInterface
}

var _ Gateway = (*RestGateway)(nil)

func NewRestGateway(client binance.RestClientInterface) *RestGateway {
	return &RestGateway{client: client}
}

// Ping checks connectivity with an unauthenticated server time request.
func (g *RestGateway) Ping(ctx context.Context) error {
	_, err := g.client.GetServerTime(ctx)
	return err
}

func credentials(bot *models.Bot) binance.Credentials {
	return binance.Credentials{ApiKey: bot.ApiKey, SecretKey: bot.SecretKey}
}

func (g *RestGateway) PlaceOrder(ctx context.Context, bot *models.Bot, price, qty float64, isBuy bool, orderType models.OrderType) (*models.Order, error) {
	req := binance.OrderRequest{
		Symbol:        bot.Symbol,
		Side:          string(side(isBuy)),
		Type:          string(orderType),
		Quantity:      quantity.Format(qty),
		Price:         quantity.Format(price),
		ClientOrderID: newClientOrderID(),
	}
	resp, err := g.client.CreateOrder(ctx, credentials(bot), req)
	if err != nil {
		return nil, err
	}

	commissions := make([]string, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		commissions = append(commissions, f.Commission)
	}
	executed, avg, fee := fillState(resp.ExecutedQuantity, resp.CummulativeQuoteQty, commissions)
	return &models.Order{
		Symbol:           bot.Symbol,
		Side:             side(isBuy),
		Type:             orderType,
		Price:            price,
		Quantity:         qty,
		FilledQuantity:   executed,
		Fee:              fee,
		Status:           ParseStatus(resp.Status, executed),
		ExchangeOrderID:  exchangeID(resp.OrderID),
		ClientOrderID:    req.ClientOrderID,
		AverageFillPrice: avg,
	}, nil
}

func (g *RestGateway) GetOrderStatus(ctx context.Context, order *models.Order, bot *models.Bot) (*models.Order, error) {
	id, err := parseExchangeID(order)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.GetOrder(ctx, credentials(bot), order.Symbol, id)
	if err != nil {
		return nil, err
	}
	return refreshed(order, resp.Status, resp.ExecutedQuantity, resp.CummulativeQuoteQty), nil
}

func (g *RestGateway) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	info, err := g.client.GetExchangeInfo(ctx, symbol)
	if err != nil {
		return models.SymbolInfo{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		lot, ok := s.LotSize()
		if !ok {
			return models.SymbolInfo{}, fmt.Errorf("%s has no LOT_SIZE filter: %w", symbol, ErrUnknownSymbol)
		}
		return models.SymbolInfo{Symbol: symbol, MinQuantity: parseFloat(lot.MinQty), StepSize: parseFloat(lot.StepSize)}, nil
	}
	return models.SymbolInfo{}, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
}
