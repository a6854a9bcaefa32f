package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/relaylink/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "relaylink %s\n", version.String())
			return err
		},
	}
}
