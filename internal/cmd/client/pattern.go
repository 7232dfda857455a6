package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/conduit/internal/executor"
)

// NewPatternCommand constructs the `pattern` command, which resolves a
// worker name pattern the way executors do.
func NewPatternCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pattern",
		Short: "Resolve a worker name pattern",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pattern, _ := cmd.Flags().GetString("pattern")
			name, _ := cmd.Flags().GetString("name")
			count, _ := cmd.Flags().GetInt("count")
			if count < 1 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}
			for i := 0; i < count; i++ {
				s, err := executor.ResolveName(pattern, name)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().String("pattern", executor.DefaultPattern, "Name pattern using ${counter}, ${name} and ${longName}")
	cmd.Flags().String("name", "", "Pool name; anything after '?' is dropped from ${name}")
	cmd.Flags().Int("count", 1, "How many names to resolve")
	return cmd
}
