// Command clubhouse-core is a thin entrypoint wiring a supervisor.Supervisor
// and exposing a single "serve" subcommand. It exists so the Agent
// Supervision Substrate is buildable and testable end-to-end; it is meant
// to be embedded by a host process (e.g. a desktop shell), not run as a
// standalone product surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "clubhouse-core",
		Short: "Agent Supervision Substrate for Clubhouse",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional)")

	root.AddCommand(newServeCmd(&configPath))
	return root
}
