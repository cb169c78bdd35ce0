// Package symbols caches exchange trading rules per symbol.
package symbols

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"ladder-trade-bot-go/internal/models"
)

// Source fetches trading rules from the exchange.
type Source interface {
	SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error)
}

// Cache memoizes Source lookups. Concurrent misses for one symbol share a single fetch.
type Cache struct {
	source Source
	group  singleflight.Group

	mu    sync.RWMutex
	items map[string]models.SymbolInfo
}

func NewCache(source Source) *Cache {
	return &Cache{source: source, items: make(map[string]models.SymbolInfo)}
}

// Get returns the cached rules for symbol, fetching them on first use.
// Failed fetches are not cached.
func (c *Cache) Get(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	c.mu.RLock()
	info, ok := c.items[symbol]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	v, err, _ := c.group.Do(symbol, func() (interface{}, error) {
		info, err := c.source.SymbolInfo(ctx, symbol)
		if err != nil {
			return models.SymbolInfo{}, err
		}
		c.mu.Lock()
		c.items[symbol] = info
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return models.SymbolInfo{}, err
	}
	return v.(models.SymbolInfo), nil
}

// SymbolInfo lets a Cache stand in for its Source.
func (c *Cache) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	return c.Get(ctx, symbol)
}

// Invalidate drops symbol so the next Get refetches it.
func (c *Cache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.items, symbol)
	c.mu.Unlock()
}
