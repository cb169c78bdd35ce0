package trader

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"ladder-trade-bot-go/internal/metrics"
	"ladder-trade-bot-go/internal/models"
)

// forEachBot runs fn for every bot on at most workers goroutines.
// A failing or panicking bot never cancels its siblings; each error is wrapped with the bot id.
func forEachBot(ctx context.Context, engine string, workers int, bots []models.Bot, fn func(ctx context.Context, bot *models.Bot) error) Result {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	errs := make([]error, len(bots))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range bots {
		i := i
		g.Go(func() (err error) {
			bot := &bots[i]
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					errs[i] = fmt.Errorf("%s bot %d: %w", engine, bot.ID, err)
				}
				err = nil
			}()
			return fn(ctx, bot)
		})
	}
	_ = g.Wait()

	res := Result{Engine: engine}
	for _, err := range errs {
		if err != nil {
			res.Errors = append(res.Errors, err)
			metrics.EngineRuns.WithLabelValues(engine, "error").Inc()
			continue
		}
		res.Processed++
		metrics.EngineRuns.WithLabelValues(engine, "ok").Inc()
	}
	return res
}
