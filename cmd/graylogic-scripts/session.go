package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/logging"
)

// NewCheckSessionCommand creates the check-session command.
func NewCheckSessionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-session <session-id>",
		Short: "Report whether a web session is authorized",
		Long: `Start the interpreter session for the given ID and report whether a web
script marked it authorized. Exits 0 when authorized and 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			cfg.Logging.Output = "stderr"
			log := logging.New(cfg.Logging, version)

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return WrapExitError(ExitCommandError, "initialising engine", err)
			}
			defer a.close(context.Background())

			if !a.engine.CheckSessionID(cmd.Context(), args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), "unauthorized")
				return NewExitError(ExitFailure, "")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "authorized")
			return nil
		},
	}
}
