package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	Long:  `Loads the configuration, decodes every pool and stage option and reports the first problem found.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s pool, %d stage(s)\n", cfg.Pool.Type, len(cfg.Pipeline))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
