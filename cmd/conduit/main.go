package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/conduit/internal/cmd/client"
	serverrun "github.com/rzbill/conduit/internal/cmd/server"
	cfgpkg "github.com/rzbill/conduit/internal/config"
	"github.com/rzbill/conduit/internal/leader"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "Conduit runtime CLI",
		Long: "Conduit correlates units of work into durable aggregates and delivers them once complete. " +
			"This CLI runs the server and inspects its store.",
		SilenceUsage: true,
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a conduit node (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(path)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	f := serverStartCmd.Flags()
	f.String("config", os.Getenv("CONDUIT_CONFIG"), "Config file (json, yaml or toml)")
	f.String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	f.String("grpc", "", "gRPC listen address")
	f.String("http", "", "HTTP listen address")
	f.String("fsync", "", "Fsync mode: always|interval|never")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	f.String("repository", "", "Aggregation repository name")
	f.Bool("leader", false, "Gate recovery on leader election")
	f.String("etcd", "", "Comma-separated etcd endpoints; empty uses an in-process lease store")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	clientcmd.AddCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyFlags overlays flags the user set on cfg.
func applyFlags(cmd *cobra.Command, cfg *cfgpkg.Config) error {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("data-dir", &cfg.DataDir)
	str("grpc", &cfg.GRPCAddr)
	str("http", &cfg.HTTPAddr)
	str("fsync", &cfg.Fsync)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("repository", &cfg.Repository.Name)
	if f.Changed("leader") {
		cfg.Leader.Enabled, _ = f.GetBool("leader")
	}
	if f.Changed("etcd") {
		s, _ := f.GetString("etcd")
		cfg.Leader.Endpoints = leader.ParseEndpoints(s)
	}
	return cfg.Validate()
}
