package trader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder-trade-bot-go/internal/models"
)

// recordingHandler appends its name to a shared log and returns a fixed result.
type recordingHandler struct {
	name  string
	log   *[]string
	mu    *sync.Mutex
	err   error
	panic bool
	bots  int
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Handle(ctx context.Context, tick *models.Ticker, bots []models.Bot) Result {
	h.mu.Lock()
	*h.log = append(*h.log, h.name)
	h.bots = len(bots)
	h.mu.Unlock()
	if h.panic {
		panic("boom")
	}
	res := Result{Engine: h.name, Processed: len(bots)}
	res.add(h.err)
	return res
}

func handlers(names ...string) ([]Handler, *[]string) {
	var log []string
	mu := &sync.Mutex{}
	out := make([]Handler, 0, len(names))
	for _, n := range names {
		out = append(out, &recordingHandler{name: n, log: &log, mu: mu})
	}
	return out, &log
}

func TestDispatcher_NoBotsStillRecordsTicker(t *testing.T) {
	// Arrange
	env := setupTest(t)
	hs, log := handlers("entry", "exit", "stoploss")
	tk := &models.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 100.1}

	// Act
	res := NewDispatcherWith(env.deps, hs...).Dispatch(context.Background(), tk)

	// Assert
	assert.True(t, res.Success())
	assert.Empty(t, *log)
	saved, err := env.store.Tickers(context.Background(), "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, testNow, saved[0].Timestamp.UTC())
}

func TestDispatcher_RunsEnginesInOrder(t *testing.T) {
	env := setupTest(t)
	env.createBot(t, longBot())
	env.createBot(t, longBot())
	hs, log := handlers("entry", "exit", "stoploss")

	res := NewDispatcherWith(env.deps, hs...).Dispatch(context.Background(), tick(100, 100.1))

	require.True(t, res.Success(), res.Err())
	assert.Equal(t, []string{"entry", "exit", "stoploss"}, *log)
	assert.Equal(t, 6, res.Processed)
	assert.Equal(t, 2, hs[0].(*recordingHandler).bots)
}

func TestDispatcher_FailingEngineDoesNotStopTheNext(t *testing.T) {
	env := setupTest(t)
	env.createBot(t, longBot())
	hs, log := handlers("entry", "exit", "stoploss")
	boom := errors.New("exchange unavailable")
	hs[0].(*recordingHandler).err = boom

	res := NewDispatcherWith(env.deps, hs...).Dispatch(context.Background(), tick(100, 100.1))

	assert.False(t, res.Success())
	assert.ErrorIs(t, res.Err(), boom)
	assert.Equal(t, []string{"entry", "exit", "stoploss"}, *log)
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	env := setupTest(t)
	env.createBot(t, longBot())
	hs, _ := handlers("entry")
	hs[0].(*recordingHandler).panic = true

	var res Result
	require.NotPanics(t, func() {
		res = NewDispatcherWith(env.deps, hs...).Dispatch(context.Background(), tick(100, 100.1))
	})

	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "panic")
}

func TestDispatcher_OnlyBotsOfTheSymbol(t *testing.T) {
	env := setupTest(t)
	other := longBot()
	other.Symbol = "ETHUSDT"
	env.createBot(t, other)
	hs, log := handlers("entry")

	res := NewDispatcherWith(env.deps, hs...).Dispatch(context.Background(), tick(100, 100.1))

	assert.True(t, res.Success())
	assert.Empty(t, *log)
}

func TestNewDispatcher_WiresEnginesInOrder(t *testing.T) {
	env := setupTest(t)

	d := NewDispatcher(env.deps)

	names := make([]string, 0, len(d.handlers))
	for _, h := range d.handlers {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"entry", "exit", "stop_loss"}, names)
}
