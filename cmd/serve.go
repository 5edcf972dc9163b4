package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cmdserve/cmdserve/internal/config"
	"github.com/cmdserve/cmdserve/internal/guard"
	"github.com/cmdserve/cmdserve/internal/logging"
	"github.com/cmdserve/cmdserve/internal/mcptools"
	"github.com/cmdserve/cmdserve/internal/search"
	"github.com/cmdserve/cmdserve/internal/terminal"
)

var serveLogFileFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool set over MCP stdio",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveLogFileFlag, "log-file", "",
		"Write JSON logs to this file instead of stderr")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)
	if serveLogFileFlag != "" {
		fileLogger, file, err := logging.NewFile(serveLogFileFlag, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer file.Close()
		logger = fileLogger
	}

	provider, err := config.NewFileProvider(func(err error) {
		logger.Warn("config reload failed", "err", err)
	})
	if err != nil {
		return err
	}
	defer provider.Close()

	validator := guard.New(provider, logger)
	terminalMgr := terminal.NewManager(provider, validator, logger)
	searchMgr := search.NewManager(provider, logger, "rg")

	// Destroy is the only teardown path: it must run whether we exit on a
	// signal or on client disconnect.
	teardown := func() {
		terminalMgr.Destroy()
		searchMgr.Destroy()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		teardown()
		os.Exit(0)
	}()

	logger.Info("serving MCP over stdio", "version", Version)
	err = mcptools.ServeStdio(mcptools.NewServer(mcptools.Deps{
		Terminal: terminalMgr,
		Search:   searchMgr,
		Provider: provider,
		Logger:   logger,
	}, Version))

	teardown()
	return err
}
