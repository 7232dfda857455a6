package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/conduit/internal/config"
	"github.com/rzbill/conduit/internal/runtime"
	grpcserver "github.com/rzbill/conduit/internal/server/grpc"
	httpserver "github.com/rzbill/conduit/internal/server/http"
	logpkg "github.com/rzbill/conduit/pkg/log"
)

// Options configures Run.
type Options struct {
	Config cfgpkg.Config
	// Logger overrides the process logger built from Config.Log.
	Logger logpkg.Logger
	// Runtime receives the runtime options before Open, letting callers
	// inject sinks or a lease client.
	Runtime func(*runtime.Options)
	// Ready, when set, is called once both servers are being served.
	Ready func(rt *runtime.Runtime, h *httpserver.Server, g *grpcserver.Server)
}

// Run opens and starts the runtime, serves gRPC and HTTP, and blocks until
// ctx is cancelled or a server fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	procLogger := opts.Logger
	if procLogger == nil {
		l, err := logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		procLogger = l
		// Redirect stdlib logs (e.g., Pebble) to our logger
		defer logpkg.RedirectStdLog(procLogger)()
	}
	defer func() { _ = procLogger.Sync() }()

	ropts := runtime.Options{Config: cfg, Logger: procLogger}
	if opts.Runtime != nil {
		opts.Runtime(&ropts)
	}
	rt, err := runtime.Open(sctx, ropts)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			procLogger.Error("runtime close failed", logpkg.Err(err))
		}
	}()
	if err := rt.Start(sctx); err != nil {
		return err
	}

	procLogger.Info("Starting conduit server",
		logpkg.Str("grpc", cfg.GRPCAddr),
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("repository", cfg.Repository.Name),
		logpkg.Bool("leader_election", cfg.Leader.Enabled),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	gsrv := grpcserver.New(rt, procLogger)
	hsrv := httpserver.New(rt, procLogger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		if err := gsrv.ListenAndServe(gctx, cfg.GRPCAddr); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := hsrv.ListenAndServe(gctx, cfg.HTTPAddr); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if opts.Ready != nil {
		go opts.Ready(rt, hsrv, gsrv)
	}

	err = g.Wait()
	if err != nil {
		procLogger.Error("server stopped", logpkg.Err(err))
	} else {
		procLogger.Info("server stopped")
	}
	return err
}
