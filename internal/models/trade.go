package models

import "gorm.io/gorm"

// Trade is one position lifecycle: an entry order and, once closing, an exit order.
// A trade without an exit order is open; a trade with a profit is closed.
type Trade struct {
	gorm.Model
	BotID        uint     `gorm:"index;not null" json:"bot_id"`
	EntryOrderID uint     `gorm:"uniqueIndex;not null" json:"entry_order_id"`
	EntryOrder   *Order   `gorm:"foreignKey:EntryOrderID" json:"entry_order,omitempty"`
	ExitOrderID  *uint    `gorm:"index" json:"exit_order_id,omitempty"`
	ExitOrder    *Order   `gorm:"foreignKey:ExitOrderID" json:"exit_order,omitempty"`
	Profit       *float64 `json:"profit,omitempty"`
	IsStopLoss   bool     `json:"is_stop_loss"`
}

// IsOpen reports whether the trade still waits for an exit order.
func (t *Trade) IsOpen() bool {
	return t.ExitOrderID == nil
}
