package main

import (
	"fmt"

	"github.com/aretw0/demandd"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of demandd",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "demandd version %s\n", demandd.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
