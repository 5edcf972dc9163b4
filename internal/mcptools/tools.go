package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cmdserve/cmdserve/internal/ansi"
	"github.com/cmdserve/cmdserve/internal/search"
)

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

func (r *registry) executeCommand(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := time.Duration(req.GetInt("timeout_ms", 0)) * time.Millisecond

	result, err := r.deps.Terminal.ExecuteCommand(command, timeout)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	output := result.Output
	if req.GetBool("strip_ansi", true) {
		output = ansi.Strip(output)
	}
	return jsonResult(map[string]any{
		"pid":     result.PID,
		"output":  output,
		"blocked": result.Blocked,
	}), nil
}

func (r *registry) readOutput(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pid, err := req.RequireInt("pid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	chunk, err := r.deps.Terminal.ReadOutput(pid)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	output := chunk.Output
	if req.GetBool("strip_ansi", true) {
		output = ansi.Strip(output)
	}
	payload := map[string]any{
		"output": output,
		"state":  chunk.State,
	}
	if chunk.State == "completed" {
		payload["exit_code"] = chunk.ExitCode
	}
	return jsonResult(payload), nil
}

func (r *registry) readOutputPaginated(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pid, err := req.RequireInt("pid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	page, err := r.deps.Terminal.ReadOutputPaginated(pid,
		req.GetInt("page", 0), req.GetInt("page_size", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"lines":       page.Lines,
		"total_lines": page.TotalLines,
		"retained":    page.Retained,
		"complete":    page.Complete,
	}), nil
}

func (r *registry) sendInput(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pid, err := req.RequireInt("pid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	input, err := req.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := r.deps.Terminal.SendInput(pid, input, req.GetBool("raw", false)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("sent"), nil
}

func (r *registry) forceTerminate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pid, err := req.RequireInt("pid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := r.deps.Terminal.ForceTerminate(pid); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("session %d terminated", pid)), nil
}

func (r *registry) listSessions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := r.deps.Terminal.ListActiveSessions()
	list := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, map[string]any{
			"pid":        s.PID,
			"command":    s.Command,
			"runtime_ms": s.Runtime.Milliseconds(),
			"blocked":    s.Blocked,
		})
	}
	return jsonResult(list), nil
}

func (r *registry) startSearch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rootPath, err := req.RequireString("root_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := r.deps.Search.StartSearch(search.Options{
		RootPath:   rootPath,
		Pattern:    pattern,
		Type:       search.Type(req.GetString("search_type", string(search.TypeContent))),
		MaxResults: req.GetInt("max_results", 0),
		Timeout:    time.Duration(req.GetInt("timeout_ms", 0)) * time.Millisecond,
		IgnoreCase: req.GetBool("ignore_case", false),
		Literal:    req.GetBool("literal", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"session_id":    snap.SessionID,
		"total_results": snap.TotalResults,
	}), nil
}

func (r *registry) readSearchResults(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := r.deps.Search.ReadSearchResults(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"results":       snap.Results,
		"total_results": snap.TotalResults,
		"complete":      snap.Complete,
		"timed_out":     snap.TimedOut,
		"error":         snap.Error,
		"runtime_ms":    snap.Runtime.Milliseconds(),
	}), nil
}

func (r *registry) stopSearch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := r.deps.Search.StopSearch(sessionID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("search %s stopped", sessionID)), nil
}

func (r *registry) listSearches(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := r.deps.Search.ListSearchSessions()
	list := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		list = append(list, map[string]any{
			"session_id":    info.SessionID,
			"root_path":     info.RootPath,
			"pattern":       info.Pattern,
			"search_type":   info.Type,
			"runtime_ms":    info.Runtime.Milliseconds(),
			"complete":      info.Complete,
			"total_results": info.TotalResults,
		})
	}
	return jsonResult(list), nil
}

func (r *registry) getConfig(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := r.deps.Provider.GetConfig()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("configuration unavailable: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"blocked_commands":       cfg.BlockedCommands,
		"allowed_directories":    cfg.AllowedDirectories,
		"default_shell":          cfg.DefaultShell,
		"working_dir":            cfg.WorkingDir,
		"max_output_lines":       cfg.MaxOutputLines,
		"max_error_bytes":        cfg.MaxErrorBytes,
		"default_search_results": cfg.SearchResults,
		"default_search_timeout": cfg.SearchTimeout.String(),
		"default_exec_timeout":   cfg.ExecTimeout.String(),
		"session_retention":      cfg.SessionRetention.String(),
		"max_search_sessions":    cfg.MaxSearchSessions,
	}), nil
}
