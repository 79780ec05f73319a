package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/config"
)

// defaultConfigPath is read when neither --config nor GRAYLOGIC_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the graylogic-scripts command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "graylogic-scripts",
		Short:         "Gray Logic script engine",
		Long:          "Runs Gray Logic automation, web and command-line scripts in bounded execution slots.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCheckSessionCommand(opts))

	return cmd
}

// loadConfig resolves the config file. An explicitly named file must exist;
// a missing default file falls back to built-in defaults.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	path, explicit := o.ConfigPath, o.ConfigPath != ""
	if !explicit {
		if env := os.Getenv("GRAYLOGIC_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid default configuration", err)
		}
	default:
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}

	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
