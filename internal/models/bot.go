package models

import "gorm.io/gorm"

// Bot is a configured trading strategy bound to one symbol and direction.
type Bot struct {
	gorm.Model
	Name      string `json:"name"`
	ApiKey    string `json:"-"`
	SecretKey string `json:"-"`
	Symbol    string `gorm:"index;not null" json:"symbol"`
	IsLong    bool   `json:"is_long"`
	Enabled   bool   `gorm:"index" json:"enabled"`

	// Steps are absolute price distances; the percent variants apply when the absolute value is zero.
	EntryStep        float64 `json:"entry_step"`
	EntryStepPercent float64 `json:"entry_step_percent"`
	ExitStep         float64 `json:"exit_step"`
	ExitStepPercent  float64 `json:"exit_step_percent"`

	EntryQuantity        float64   `gorm:"not null" json:"entry_quantity"`
	MaxAdvanceOrders     int       `json:"max_advance_orders"`
	PlaceOrdersInAdvance bool      `json:"place_orders_in_advance"`
	MinPrice             *float64  `json:"min_price,omitempty"`
	MaxPrice             *float64  `json:"max_price,omitempty"`
	StopLossEnabled      bool      `json:"stop_loss_enabled"`
	StopLossPercent      float64   `json:"stop_loss_percent"`
	ExitOrderType        OrderType `gorm:"default:LIMIT" json:"exit_order_type"`

	Trades []Trade `json:"-"`
}

// Direction returns +1 for long bots and -1 for short bots.
func (b *Bot) Direction() float64 {
	if b.IsLong {
		return 1
	}
	return -1
}

// EntrySide is the order side used to open a position.
func (b *Bot) EntrySide() OrderSide {
	if b.IsLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// ExitSide is the order side used to close a position.
func (b *Bot) ExitSide() OrderSide {
	if b.IsLong {
		return OrderSideSell
	}
	return OrderSideBuy
}
