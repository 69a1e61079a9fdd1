package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newPluginsCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List loaded plugins as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.PluginManager().Metas())
		},
	}
}
