package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/dealflow/pkg/observability"
)

// SafeGo runs fn in a goroutine. A panic is recovered and logged with its
// stack instead of taking the process down; a returned error is logged.
func SafeGo(ctx context.Context, logger *observability.Logger, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Every runs fn each interval until ctx is done. Each run is protected by
// the same recovery as SafeGo, so one bad tick does not stop the loop.
func Every(ctx context.Context, logger *observability.Logger, interval time.Duration, taskName string, fn func(context.Context)) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	SafeGo(ctx, logger, taskName, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runRecovered(logger, taskName, func() { fn(ctx) })
			}
		}
	})
}

func runRecovered(logger *observability.Logger, taskName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"task":  taskName,
				"panic": fmt.Sprint(r),
			}).Error("periodic task panicked")
		}
	}()
	fn()
}

// Map applies fn to every item with at most workers calls in flight and
// returns the results in input order. The first error cancels the remaining
// calls and is returned; a panic in fn is returned as an error.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]R, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			out, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
