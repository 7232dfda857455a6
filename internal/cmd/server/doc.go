// Package serverrun exposes the Run entrypoint used by the CLI to start a
// conduit node: it opens the runtime, serves gRPC and HTTP, and shuts
// everything down when the context ends or a server fails.
//
// Example:
//
//	cfg, _ := config.Load("conduit.yaml")
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
