// Package root wires the ipybridge command line.
package root

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ipybridge/ipybridge/pkg/version"
)

var debug bool

// NewRootCmd builds the top-level command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ipybridge",
		Short:   "MCP server backed by a persistent interactive Python session",
		Version: version.Version,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// setupLogging sends logs to stderr: stdout belongs to the MCP stdio
// transport.
func setupLogging() {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
