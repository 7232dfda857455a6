// Package runtime wires a single conduit node: the Pebble store, the
// aggregation repository and aggregator, the recovery route, the optional
// leadership policy that gates it, executors, events and metrics.
//
// Example:
//
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	if err := rt.Start(ctx); err != nil {
//	    return err
//	}
//	_, _ = rt.Aggregator().Process(ctx, "order-1", exchange.New(body))
package runtime
