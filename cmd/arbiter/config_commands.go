package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"arbiter/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			}
			if err := config.WriteSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Enable at least one provider and set its api_key before submitting jobs.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if _, statErr := os.Stat(ctx.configPath); os.IsNotExist(statErr) {
				fmt.Fprintln(out, "Config file does not exist; defaults are in effect")
			}
			enabled := cfg.EnabledProviders()
			if len(enabled) == 0 {
				fmt.Fprintln(out, "Warning: no judge providers enabled")
			} else {
				fmt.Fprintf(out, "Enabled providers: %s\n", strings.Join(enabled, ", "))
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// API keys stay out of terminal output.
			redacted := *cfg
			redacted.Providers = make(map[string]config.Provider, len(cfg.Providers))
			for id, provider := range cfg.Providers {
				if provider.APIKey != "" {
					provider.APIKey = "(set)"
				}
				redacted.Providers[id] = provider
			}
			if redacted.Ledger.APIKey != "" {
				redacted.Ledger.APIKey = "(set)"
			}
			return writeJSON(cmd, redacted)
		},
	}
}
