package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/rzbill/conduit/internal/aggregation"
	cfgpkg "github.com/rzbill/conduit/internal/config"
	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/internal/runtime"
	pebblestore "github.com/rzbill/conduit/internal/storage/pebble"
)

// NewRepoCommand constructs the `repo` command group operating on a store
// directly.
func NewRepoCommand() *cobra.Command {
	repoCmd := &cobra.Command{Use: "repo", Short: "Inspect and edit an aggregation repository offline"}
	repoCmd.PersistentFlags().String("data-dir", cfgpkg.DefaultDataDir(), "Data directory of the node")
	repoCmd.PersistentFlags().String("repository", "default", "Repository name")
	repoCmd.PersistentFlags().String("fsync", "always", "Fsync mode: always|interval|never")

	repoCmd.AddCommand(
		newRepoAddCommand(),
		newRepoGetCommand(),
		newRepoRemoveCommand(),
		newRepoKeysCommand(),
	)
	return repoCmd
}

// withRepository opens the store named by the persistent flags for the
// duration of fn.
func withRepository(cmd *cobra.Command, fn func(ctx context.Context, repo *aggregation.Repository) error) (err error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	name, _ := cmd.Flags().GetString("repository")
	fsync, _ := cmd.Flags().GetString("fsync")
	mode, err := pebblestore.ParseFsyncMode(fsync)
	if err != nil {
		return err
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: runtime.StoreDir(dataDir), Fsync: mode})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	repo, err := aggregation.OpenRepository(ctx, db, aggregation.Options{Name: name})
	if err != nil {
		return err
	}
	return fn(ctx, repo)
}

func requireKey(cmd *cobra.Command) (aggregation.Key, error) {
	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		return "", errors.New("--key is required")
	}
	return aggregation.Key(key), nil
}

func newRepoAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a snapshot for a key and print the one it replaced",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := requireKey(cmd)
			if err != nil {
				return err
			}
			body, _ := cmd.Flags().GetString("body")
			headers, _ := cmd.Flags().GetStringToString("header")
			ex := exchange.New(parseBody(body))
			for k, v := range headers {
				ex.SetHeader(k, v)
			}
			return withRepository(cmd, func(ctx context.Context, repo *aggregation.Repository) error {
				prev, err := repo.Add(ctx, key, ex)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toJSON(prev))
			})
		},
	}
	cmd.Flags().String("key", "", "Correlation key")
	cmd.Flags().String("body", "", "Body; parsed as JSON when valid, text otherwise")
	cmd.Flags().StringToString("header", nil, "Header as key=value (repeatable)")
	return cmd
}

func newRepoGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the snapshot stored for a key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := requireKey(cmd)
			if err != nil {
				return err
			}
			return withRepository(cmd, func(ctx context.Context, repo *aggregation.Repository) error {
				ex, err := repo.Get(ctx, key)
				if err != nil {
					return err
				}
				if ex == nil {
					return fmt.Errorf("key %q not found", key)
				}
				return printJSON(cmd.OutOrStdout(), toJSON(ex))
			})
		},
	}
	cmd.Flags().String("key", "", "Correlation key")
	return cmd
}

func newRepoRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete the snapshot stored for a key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := requireKey(cmd)
			if err != nil {
				return err
			}
			return withRepository(cmd, func(ctx context.Context, repo *aggregation.Repository) error {
				if err := repo.Remove(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", key)
				return nil
			})
		},
	}
	cmd.Flags().String("key", "", "Correlation key")
	return cmd
}

func newRepoKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List keys currently aggregating",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepository(cmd, func(ctx context.Context, repo *aggregation.Repository) error {
				keys, err := repo.Keys(ctx)
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
}
