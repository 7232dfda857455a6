// Package grpcserver hosts the standard grpc.health.v1 service for a
// runtime. Besides the overall status it reports conduit.Aggregation,
// which follows the store, and conduit.Leader, which is SERVING only on
// the node holding leadership.
//
// Example:
//
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":9090")
package grpcserver
