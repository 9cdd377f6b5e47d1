package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/sitecrawl/internal/config"
)

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sitecrawl %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand, which prints the effective
// configuration after file, environment and flag overrides.
func configCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if check {
				if err := config.Validate(cfg); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
			}
			return config.Dump(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "validate the configuration before printing it")
	return cmd
}
