// Package async provides the few concurrency helpers dealflow needs:
// recovered background goroutines, periodic loops and a bounded, ordered
// concurrent map.
//
// # Usage
//
// Periodic cleanup that survives a panicking tick:
//
//	async.Every(ctx, logger, 5*time.Minute, "throttle cleanup", func(context.Context) {
//		throttle.Cleanup()
//	})
//
// Fetch per-product prices with at most four requests in flight:
//
//	prices, err := async.Map(ctx, products, 4, func(ctx context.Context, p Product) ([]Price, error) {
//		return catalog.ListActivePrices(ctx, p.ID)
//	})
package async
