// Package cli is the barrel command line.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	Config  string
	EnvFile string
}

// NewRootCommand creates the barrel command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "barrel",
		Short: "barrel routes JSON events to listeners, services and schedules",
		Long: `barrel matches incoming JSON events against listener patterns, calls
declared HTTP services with the matched values, and fires scheduled
events from cron expressions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "barrel.yaml", "config file (yaml or json)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the config; missing is fine")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMatchCommand())
	cmd.AddCommand(NewCronCommand())
	cmd.AddCommand(NewInitCommand())

	return cmd
}
