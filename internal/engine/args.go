package engine

import (
	"os"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

// buildArgv returns the argument vector for a run. Element 0 is the script's
// file name, or the target device ID for inline source. The rest is args
// split like a shell command line, with quoting, $VAR and glob expansion.
// Expansion errors are logged and leave only element 0.
func (e *Engine) buildArgv(script interp.Script, deviceID uint64, args string) []string {
	argv := []string{argvZero(script, deviceID)}
	if strings.TrimSpace(args) == "" {
		return argv
	}

	fields, err := shell.Fields(args, os.Getenv)
	if err != nil {
		e.logger.Error("could not expand script arguments", "script", script.Name(), "args", args, "error", err)
		return argv
	}
	return append(argv, fields...)
}

func argvZero(script interp.Script, deviceID uint64) string {
	if script.Inline() {
		return strconv.FormatUint(deviceID, 10)
	}
	p := script.Path
	i := strings.LastIndexByte(p, '/')
	if i < 0 || i == len(p)-1 {
		return p
	}
	return p[i+1:]
}
