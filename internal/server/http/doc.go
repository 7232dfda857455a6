// Package httpserver exposes a runtime over REST: health, Prometheus
// metrics and the aggregation repository (list, inspect, evict, process
// and force completion).
//
// Example:
//
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
