package symbols

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder-trade-bot-go/internal/models"
)

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (s *countingSource) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return models.SymbolInfo{}, s.err
	}
	return models.SymbolInfo{Symbol: symbol, MinQuantity: 0.001, StepSize: 0.001}, nil
}

func TestCache_ConcurrentMissesFetchOnce(t *testing.T) {
	src := &countingSource{delay: 50 * time.Millisecond}
	cache := NewCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := cache.Get(context.Background(), "BTCUSDT")
			assert.NoError(t, err)
			assert.Equal(t, 0.001, info.StepSize)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())

	_, err := cache.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	src := &countingSource{err: errors.New("down")}
	cache := NewCache(src)

	_, err := cache.Get(context.Background(), "BTCUSDT")
	assert.Error(t, err)

	src.err = nil
	info, err := cache.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", info.Symbol)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCache_Invalidate(t *testing.T) {
	src := &countingSource{}
	cache := NewCache(src)

	_, _ = cache.Get(context.Background(), "ETHUSDT")
	cache.Invalidate("ETHUSDT")
	_, _ = cache.Get(context.Background(), "ETHUSDT")

	assert.Equal(t, int32(2), src.calls.Load())
}
