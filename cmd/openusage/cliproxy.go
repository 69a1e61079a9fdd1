package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/ayusman/openusage/internal/cliproxy"
)

func newCLIProxyCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cliproxy",
		Short: "Manage the CLIProxyAPI remote account store",
	}

	cmd.AddCommand(
		newCLIProxySetCommand(e),
		newCLIProxyClearCommand(e),
		newCLIProxyStatusCommand(e),
		newCLIProxyAccountsCommand(e),
		newCLIProxySelectCommand(e),
	)
	return cmd
}

func newCLIProxySetCommand(e *env) *cobra.Command {
	var baseURL, apiKey string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save the CLIProxyAPI base URL and management key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cliproxy.Config{BaseURL: baseURL, APIKey: apiKey}.Normalized()
			if !cfg.Configured() {
				return errors.New("both --url and --key are required")
			}
			if err := validator.New().Struct(cfg); err != nil {
				return fmt.Errorf("invalid --url %q", cfg.BaseURL)
			}
			if err := e.store.SetCLIProxyConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			return printStatus(cmd, cfg.Status())
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "CLIProxyAPI base URL")
	cmd.Flags().StringVar(&apiKey, "key", "", "CLIProxyAPI management key")
	return cmd
}

func newCLIProxyClearCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the saved CLIProxyAPI config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.store.ClearCLIProxyConfig(); err != nil {
				return fmt.Errorf("failed to clear config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "CLIProxyAPI config cleared")
			return nil
		},
	}
}

func newCLIProxyStatusCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the CLIProxyAPI config with the key masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp()
			if err != nil {
				return err
			}
			cfg, _, err := a.RemoteConfig().CLIProxyConfig()
			if err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}
			return printStatus(cmd, cfg.Status())
		},
	}
}

func newCLIProxyAccountsCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts available in CLIProxyAPI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp()
			if err != nil {
				return err
			}
			cfg, ok, err := a.RemoteConfig().CLIProxyConfig()
			if err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}
			if !ok || !cfg.Configured() {
				return cliproxy.ErrNotConfigured
			}

			files, err := a.CLIProxy().ListAuthFiles(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tEMAIL\tSTATE")
			for _, f := range files {
				state := "ok"
				switch {
				case f.Disabled:
					state = "disabled"
				case f.Unavailable:
					state = "unavailable"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Name, f.ProviderName(), f.Email, state)
			}
			return w.Flush()
		},
	}
}

func newCLIProxySelectCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "select <plugin-id> [selection]",
		Short: "Choose the remote account a plugin probes with",
		Long: `Select saves the CLIProxyAPI account (id, name or auth index) that a plugin
uses for scheduled refreshes. Omit the selection to return the plugin to
local credentials.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			selection := ""
			if len(args) == 2 {
				selection = args[1]
			}
			if err := e.store.SetAccountSelection(args[0], selection); err != nil {
				return fmt.Errorf("failed to save selection: %w", err)
			}
			if selection == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s now uses local credentials\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s now uses account %s\n", args[0], selection)
			}
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, status cliproxy.Status) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
