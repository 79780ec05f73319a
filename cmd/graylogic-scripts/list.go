package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/logging"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	JSON bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scripts under the scripts directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listScripts(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print a JSON array")

	return cmd
}

func listScripts(cmd *cobra.Command, opts *ListOptions) error {
	cfg, err := opts.loadConfig()
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

	scripts, err := a.engine.ListScripts()
	if err != nil {
		return WrapExitError(ExitCommandError, "listing scripts", err)
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		if scripts == nil {
			scripts = []string{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(scripts)
	}
	for _, s := range scripts {
		fmt.Fprintln(out, s)
	}
	return nil
}
