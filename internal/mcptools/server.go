// Package mcptools adapts the session engine onto an MCP stdio server. It is
// a thin boundary: argument validation happens here, engine errors become
// structured tool results, and nothing in here owns process state.
package mcptools

import (
	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cmdserve/cmdserve/internal/config"
	"github.com/cmdserve/cmdserve/internal/search"
	"github.com/cmdserve/cmdserve/internal/terminal"
)

// Deps wires the engine into the tool layer.
type Deps struct {
	Terminal *terminal.Manager
	Search   *search.Manager
	Provider config.Provider
	Logger   *log.Logger
}

type registry struct {
	deps Deps
}

// NewServer builds the MCP server with every tool registered.
func NewServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer("cmdserve", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	r := &registry{deps: deps}

	s.AddTool(mcp.NewTool("execute_command",
		mcp.WithDescription("Execute a shell command. Returns the output produced within the timeout; if the command is still running afterwards it keeps going in the background and the response is marked blocked. Use read_output to follow it and force_terminate to kill it."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line to run under the configured shell")),
		mcp.WithNumber("timeout_ms", mcp.Description("How long to wait for completion before returning partial output")),
		mcp.WithBoolean("strip_ansi", mcp.Description("Remove ANSI escape sequences from the output (default true)")),
	), r.executeCommand)

	s.AddTool(mcp.NewTool("read_output",
		mcp.WithDescription("Read output that arrived since the last read from a running or completed command session."),
		mcp.WithNumber("pid", mcp.Required(), mcp.Description("Session pid returned by execute_command")),
		mcp.WithBoolean("strip_ansi", mcp.Description("Remove ANSI escape sequences from the output (default true)")),
	), r.readOutput)

	s.AddTool(mcp.NewTool("read_output_paginated",
		mcp.WithDescription("Read one page of a session's buffered output without disturbing the incremental read cursor."),
		mcp.WithNumber("pid", mcp.Required(), mcp.Description("Session pid")),
		mcp.WithNumber("page", mcp.Description("Zero-based page index (default 0)")),
		mcp.WithNumber("page_size", mcp.Description("Lines per page (default 100, max 1000)")),
	), r.readOutputPaginated)

	s.AddTool(mcp.NewTool("send_input",
		mcp.WithDescription("Send input to a running command session (for REPLs and prompts). Raw mode interprets escapes like \\x03 for Ctrl+C and sends no trailing newline."),
		mcp.WithNumber("pid", mcp.Required(), mcp.Description("Session pid")),
		mcp.WithString("input", mcp.Required(), mcp.Description("Text to send")),
		mcp.WithBoolean("raw", mcp.Description("Interpret escape sequences and skip the trailing newline")),
	), r.sendInput)

	s.AddTool(mcp.NewTool("force_terminate",
		mcp.WithDescription("Kill a command session's process and drop the session. Terminating an unknown or finished pid is a no-op."),
		mcp.WithNumber("pid", mcp.Required(), mcp.Description("Session pid")),
	), r.forceTerminate)

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List command sessions whose process has not exited."),
	), r.listSessions)

	s.AddTool(mcp.NewTool("start_search",
		mcp.WithDescription("Start a streaming content or filename search under a directory. Returns a session id immediately; poll read_search_results for matches."),
		mcp.WithString("root_path", mcp.Required(), mcp.Description("Directory to search under")),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Search pattern (regex for content, substring or glob for files)")),
		mcp.WithString("search_type", mcp.Description("\"content\" (default) or \"files\"")),
		mcp.WithNumber("max_results", mcp.Description("Result storage cap; matching keeps counting past it")),
		mcp.WithNumber("timeout_ms", mcp.Description("Search budget; the process is killed when it elapses")),
		mcp.WithBoolean("ignore_case", mcp.Description("Case-insensitive content search")),
		mcp.WithBoolean("literal", mcp.Description("Treat the pattern as a fixed string, not a regex")),
	), r.startSearch)

	s.AddTool(mcp.NewTool("read_search_results",
		mcp.WithDescription("Snapshot a search session: stored results, total match count, completion flag, and any capped diagnostic text."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Search session id")),
	), r.readSearchResults)

	s.AddTool(mcp.NewTool("stop_search",
		mcp.WithDescription("Stop a running search early; partial results stay readable."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Search session id")),
	), r.stopSearch)

	s.AddTool(mcp.NewTool("list_searches",
		mcp.WithDescription("List all tracked search sessions."),
	), r.listSearches)

	s.AddTool(mcp.NewTool("get_config",
		mcp.WithDescription("Show the current security configuration (blocked commands, allowed directories, limits)."),
	), r.getConfig)

	return s
}

// ServeStdio runs the server over stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
