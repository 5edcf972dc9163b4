package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmdserve/cmdserve/internal/ansi"
	"github.com/cmdserve/cmdserve/internal/config"
	"github.com/cmdserve/cmdserve/internal/guard"
	"github.com/cmdserve/cmdserve/internal/logging"
	"github.com/cmdserve/cmdserve/internal/terminal"
)

var execCmd = &cobra.Command{
	Use:   "exec <command...>",
	Short: "Run one command through the execution engine",
	Long: `Run a command through the same validation and session machinery the
server uses. If the command outlives the timeout it is killed before exit
(one-shot mode has nobody left to follow the session).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

var (
	execTimeoutFlag  time.Duration
	execKeepAnsiFlag bool
	execJSONFlag     bool
)

func init() {
	execCmd.Flags().DurationVar(&execTimeoutFlag, "timeout", 0,
		"Max time to wait for completion (default from config)")
	execCmd.Flags().BoolVar(&execKeepAnsiFlag, "keep-ansi", false,
		"Keep ANSI escape sequences in the output")
	execCmd.Flags().BoolVar(&execJSONFlag, "json", false, "Output as JSON")
}

func runExec(cmd *cobra.Command, args []string) error {
	command := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	provider := config.Static{Config: cfg}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	mgr := terminal.NewManager(provider, guard.New(provider, logger), logger)
	defer mgr.Destroy()

	result, err := mgr.ExecuteCommand(command, execTimeoutFlag)
	if err != nil {
		return err
	}

	output := result.Output
	if !execKeepAnsiFlag {
		output = ansi.Strip(output)
	}

	if execJSONFlag {
		data, err := json.MarshalIndent(map[string]any{
			"pid":     result.PID,
			"output":  output,
			"blocked": result.Blocked,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(output)
	if result.Blocked {
		fmt.Fprintf(os.Stderr, "command still running after %s (pid %d); killed on exit\n",
			execTimeoutFlag, result.PID)
	}
	return nil
}
