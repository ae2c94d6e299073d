package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/demandd/internal/daemon"
	"github.com/aretw0/demandd/pkg/runner"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon until interrupted",
	Long: `Builds the pool pipeline from the configuration and runs it together with
the status API. SIGINT or SIGTERM start a graceful shutdown, a second signal
exits immediately.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		d, err := daemon.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to build daemon: %w", err)
		}

		signals := daemon.NewSignalManager(cmd.Context(), logger, nil)
		defer signals.Stop()

		err = d.Run(signals.Context())
		var abort *runner.AbortError
		if errors.As(err, &abort) {
			logger.Error("daemon aborted",
				"flavour", abort.Flavour.String(),
				"payload", abort.Payload,
				"error", abort.Cause,
			)
			os.Exit(1)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Make 'run' the default if no command is provided.
	rootCmd.RunE = runCmd.RunE
}
