package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cmdserve",
	Short: "Command and search tool server for AI agents",
	Long: `cmdserve lets an external controller run shell commands and filesystem
searches on this host. Long-running commands stay alive past their timeout and
can be followed, paged, and terminated; searches stream matches and are killed
when their budget elapses. Every command is checked against the configured
blocklist before anything is spawned.

Quick start:
  cmdserve serve                         # Serve tools over MCP stdio
  cmdserve exec "ls -la"                 # Run one command directly
  cmdserve search --root . --pattern foo # Run one search directly
  cmdserve validate "sudo reboot"        # Check a command against policy`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
