package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/relaylink/internal/config"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(rootOpts.ConfigPath)
			if err != nil {
				return err
			}

			journal := cfg.Journal.Driver
			if journal == "" {
				journal = "disabled"
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "config %s is valid\n", rootOpts.ConfigPath)
			fmt.Fprintf(w, "  instance:  %s\n", cfg.Instance.ID)
			fmt.Fprintf(w, "  relay:     %s (enabled: %t)\n", cfg.Relay.URL, cfg.Relay.ShouldConnect())
			fmt.Fprintf(w, "  local api: %s\n", cfg.Local.GraphQLURL)
			fmt.Fprintf(w, "  journal:   %s\n", journal)
			fmt.Fprintf(w, "  status:    :%d\n", cfg.Status.Port)
			return nil
		},
	}
}
