package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmdserve/cmdserve/internal/config"
	"github.com/cmdserve/cmdserve/internal/guard"
	"github.com/cmdserve/cmdserve/internal/logging"
)

var validateCmd = &cobra.Command{
	Use:   "validate <command...>",
	Short: "Check a command against the security policy without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		command := strings.Join(args, " ")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		provider := config.Static{Config: cfg}
		validator := guard.New(provider, logging.New(os.Stderr, cfg.LogLevel))

		if validator.Validate(command) {
			fmt.Println("allowed")
			return nil
		}
		fmt.Println("blocked")
		os.Exit(1)
		return nil
	},
}
