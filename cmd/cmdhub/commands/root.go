package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cmdhub",
	Short: "Validate, log, and expose an event-sourced agent command hub",
	Long: `cmdhub validates tool calls from untrusted agents through a tiered
speed-layer dispatcher, folds accepted commands into an append-only
event log, and mounts a POSIX-shaped inspection surface over the
resulting project state.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (not read: configuration is always loaded from $XDG_CONFIG_HOME/cmdhub/config.yaml, or ~/.config/cmdhub/config.yaml when XDG_CONFIG_HOME is unset)")
}
