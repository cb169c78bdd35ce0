package models

import "time"

// Ticker is a top-of-book snapshot for one symbol.
type Ticker struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	Symbol    string    `gorm:"index:idx_ticker_symbol_time;not null" json:"symbol"`
	Timestamp time.Time `gorm:"index:idx_ticker_symbol_time" json:"timestamp"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
}

// SymbolInfo holds exchange trading constraints for a symbol.
type SymbolInfo struct {
	Symbol      string
	MinQuantity float64
	StepSize    float64
}
