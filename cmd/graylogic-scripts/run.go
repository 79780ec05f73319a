package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/syntax"

	"github.com/nerrad567/gray-logic-scripts/internal/engine"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/logging"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Source   string
	DeviceID uint64
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [script] [args...]",
		Short: "Run a script once and exit with its status",
		Long: `Run a script once in the foreground. The script's output goes to stdout
and the command exits with the script's exit status.

Relative script paths are resolved against scripts.path.

Example:
  graylogic-scripts run lights/evening.lua --level 40
  graylogic-scripts run --source 'print(DEVICE_ID)' --device 12`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Source == "" && len(args) == 0 {
				return errors.New("a script path or --source is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, opts, args)
		},
	}

	// Everything after the script path belongs to the script.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVarP(&opts.Source, "source", "e", "", "inline Lua source to run instead of a file")
	cmd.Flags().Uint64Var(&opts.DeviceID, "device", 0, "device ID the script runs for")

	return cmd
}

func runScript(cmd *cobra.Command, opts *RunOptions, args []string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout carries only the script's output.
	cfg.Logging.Output = "stderr"
	log := logging.New(cfg.Logging, version)

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "initialising engine", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	req := engine.Request{
		Source:      opts.Source,
		DeviceID:    opts.DeviceID,
		CommandLine: true,
		Output:      cmd.OutOrStdout(),
	}
	scriptArgs := args
	if opts.Source == "" {
		req.Path = args[0]
		scriptArgs = args[1:]
	}
	if req.Args, err = quoteArgs(scriptArgs); err != nil {
		return WrapExitError(ExitCommandError, "invalid script arguments", err)
	}

	start := time.Now()
	code, err := a.engine.ExecuteSync(ctx, req)
	switch {
	case err == nil:
	case engine.IsScriptError(err):
		fmt.Fprintf(cmd.ErrOrStderr(), "script error: %v\n", err)
	default:
		return WrapExitError(ExitCommandError, "running script", err)
	}
	log.Debug("script finished", "exit_code", code, "duration", time.Since(start))

	if code != 0 {
		// The script already reported why; exit quietly with its status.
		return NewExitError(code, "")
	}
	return nil
}

// quoteArgs joins argv words into the argument string the engine expands,
// quoting each so it survives expansion unchanged.
func quoteArgs(args []string) (string, error) {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quoting %q: %w", arg, err)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}
