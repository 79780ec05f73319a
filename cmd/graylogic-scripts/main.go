// Gray Logic Scripts - script engine for the Gray Logic building controller.
//
// This binary runs user scripts (Lua in-process, other languages through
// configured interpreters) in a bounded set of execution slots. It serves
// them over HTTP and MQTT and exposes one-shot commands for the CLI.
//
// Usage:
//
//	graylogic-scripts serve
//	graylogic-scripts run lights/evening.lua --level 40
//	graylogic-scripts list
//	graylogic-scripts check-session <id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		cancel()
		os.Exit(GetExitCode(err))
	}
}
