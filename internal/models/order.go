package models

import (
	"time"

	"gorm.io/gorm"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
)

// IsTerminal reports whether no further fills can happen.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled
}

// TerminalStatuses lists the statuses excluded from reconciliation.
var TerminalStatuses = []OrderStatus{OrderStatusFilled, OrderStatusCanceled}

// Order is a single exchange order, either the entry or the exit side of a trade.
type Order struct {
	gorm.Model
	BotID            uint        `gorm:"index;not null" json:"bot_id"`
	Symbol           string      `gorm:"not null" json:"symbol"`
	Side             OrderSide   `gorm:"not null" json:"side"`
	Type             OrderType   `json:"type"`
	Price            float64     `json:"price"`
	Quantity         float64     `json:"quantity"`
	FilledQuantity   float64     `json:"filled_quantity"`
	Fee              float64     `json:"fee"`
	Status           OrderStatus `gorm:"index;not null;default:NEW" json:"status"`
	ExchangeOrderID  *string     `gorm:"uniqueIndex" json:"exchange_order_id,omitempty"`
	ClientOrderID    string      `gorm:"index" json:"client_order_id"`
	AverageFillPrice *float64    `json:"average_fill_price,omitempty"`
	LastFillID       string      `json:"-"`
	LastUpdated      time.Time   `gorm:"index" json:"last_updated"`
}

// IsFilled reports whether the order has been completely executed.
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// EffectivePrice is the average fill price when known, the requested price otherwise.
func (o *Order) EffectivePrice() float64 {
	if o.AverageFillPrice != nil && *o.AverageFillPrice > 0 {
		return *o.AverageFillPrice
	}
	return o.Price
}
