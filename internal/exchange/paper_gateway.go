package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"ladder-trade-bot-go/internal/models"
)

// PaperGateway simulates an exchange in memory. MARKET orders fill at the requested
// price immediately; LIMIT orders stay NEW until Fill is called.
type PaperGateway struct {
	mu      sync.Mutex
	nextID  int64
	orders  map[string]*models.Order
	symbols map[string]models.SymbolInfo
}

var _ Gateway = (*PaperGateway)(nil)

// NewPaperGateway creates a simulator; symbols without explicit rules accept any quantity.
func NewPaperGateway(symbols map[string]models.SymbolInfo) *PaperGateway {
	if symbols == nil {
		symbols = make(map[string]models.SymbolInfo)
	}
	return &PaperGateway{orders: make(map[string]*models.Order), symbols: symbols}
}

func (g *PaperGateway) PlaceOrder(ctx context.Context, bot *models.Bot, price, qty float64, isBuy bool, orderType models.OrderType) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("paper: invalid quantity %v", qty)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := strconv.FormatInt(g.nextID, 10)
	order := &models.Order{
		Symbol:          bot.Symbol,
		Side:            side(isBuy),
		Type:            orderType,
		Price:           price,
		Quantity:        qty,
		Status:          models.OrderStatusNew,
		ExchangeOrderID: &id,
		ClientOrderID:   newClientOrderID(),
	}
	if orderType == models.OrderTypeMarket {
		fillLocked(order, price)
	}
	stored := *order
	g.orders[id] = &stored
	return order, nil
}

func fillLocked(order *models.Order, price float64) {
	p := price
	order.Status = models.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.AverageFillPrice = &p
}

// Fill marks a resting order as executed at price.
func (g *PaperGateway) Fill(exchangeID string, price float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[exchangeID]
	if !ok {
		return fmt.Errorf("paper: order %s not found", exchangeID)
	}
	fillLocked(order, price)
	return nil
}

func (g *PaperGateway) GetOrderStatus(ctx context.Context, order *models.Order, bot *models.Bot) (*models.Order, error) {
	if order.ExchangeOrderID == nil {
		return nil, ErrMissingOrderID
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	stored, ok := g.orders[*order.ExchangeOrderID]
	if !ok {
		return nil, fmt.Errorf("paper: order %s not found", *order.ExchangeOrderID)
	}
	updated := *order
	updated.Status = stored.Status
	updated.FilledQuantity = stored.FilledQuantity
	updated.AverageFillPrice = stored.AverageFillPrice
	return &updated, nil
}

func (g *PaperGateway) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if info, ok := g.symbols[symbol]; ok {
		return info, nil
	}
	return models.SymbolInfo{Symbol: symbol}, nil
}
