// Package cli implements the crdtsync command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-crdt-kit/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel  string
	LogFormat string
}

// NewRootCommand creates the root command for the crdtsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "crdtsync",
		Short: "Offline-first document sync toolkit",
		Long: `crdtsync demonstrates and operates the go-crdt-kit replication engine:
run a local convergence demo, host a WebSocket relay for real peers, or
inspect persisted node state.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(logging.Config{
				Level:  opts.LogLevel,
				Format: opts.LogFormat,
			})
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")

	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))

	return cmd
}
