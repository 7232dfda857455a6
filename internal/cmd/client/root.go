package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root command carrying every client command.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "conduit",
		Short: "Conduit client commands",
	}
	AddCommands(root)
	return root
}

// AddCommands registers the client commands on root.
func AddCommands(root *cobra.Command) {
	root.AddCommand(NewRepoCommand(), NewPatternCommand(), NewHealthCommand())
}
