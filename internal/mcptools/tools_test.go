package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmdserve/cmdserve/internal/config"
	"github.com/cmdserve/cmdserve/internal/guard"
	"github.com/cmdserve/cmdserve/internal/logging"
	"github.com/cmdserve/cmdserve/internal/search"
	"github.com/cmdserve/cmdserve/internal/terminal"
)

func newTestRegistry(t *testing.T) *registry {
	t.Helper()

	cfg := config.Defaults()
	cfg.ExecTimeout = 5 * time.Second
	cfg.SearchTimeout = 5 * time.Second
	provider := config.Static{Config: &cfg}
	logger := logging.Discard()

	// A stand-in for the search utility keeps these tests hermetic.
	fakeRg := filepath.Join(t.TempDir(), "fake-rg")
	script := "#!/bin/sh\necho 'a.go:1:hit one'\necho 'a.go:2:hit two'\n"
	require.NoError(t, os.WriteFile(fakeRg, []byte(script), 0o755))

	term := terminal.NewManager(provider, guard.New(provider, logger), logger)
	t.Cleanup(term.Destroy)
	srch := search.NewManager(provider, logger, fakeRg)
	t.Cleanup(srch.Destroy)

	return &registry{deps: Deps{
		Terminal: term,
		Search:   srch,
		Provider: provider,
		Logger:   logger,
	}}
}

func callReq(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

// decodeText unmarshals a tool result's text payload into dst.
func decodeText(t *testing.T, res *mcp.CallToolResult, dst any) {
	t.Helper()
	require.False(t, res.IsError, "tool returned an error result: %+v", res.Content)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "first content item is not text")
	require.NoError(t, json.Unmarshal([]byte(text.Text), dst))
}

func TestExecuteCommandTool(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.executeCommand(context.Background(), callReq(map[string]any{
		"command": "echo tool-level-hello",
	}))
	require.NoError(t, err)

	var payload struct {
		PID     int    `json:"pid"`
		Output  string `json:"output"`
		Blocked bool   `json:"blocked"`
	}
	decodeText(t, res, &payload)

	assert.Greater(t, payload.PID, 0)
	assert.Contains(t, payload.Output, "tool-level-hello")
	assert.False(t, payload.Blocked)
}

func TestExecuteCommandToolMissingArgument(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.executeCommand(context.Background(), callReq(map[string]any{}))
	require.NoError(t, err, "argument errors become tool results, not Go errors")
	assert.True(t, res.IsError)
}

func TestExecuteCommandToolDenied(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.executeCommand(context.Background(), callReq(map[string]any{
		"command": "sudo id",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestReadOutputToolUnknownSession(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.readOutput(context.Background(), callReq(map[string]any{
		"pid": float64(999999),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchToolRoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.startSearch(context.Background(), callReq(map[string]any{
		"root_path": t.TempDir(),
		"pattern":   "hit",
	}))
	require.NoError(t, err)

	var started struct {
		SessionID string `json:"session_id"`
	}
	decodeText(t, res, &started)
	require.NotEmpty(t, started.SessionID)

	var snapshot struct {
		Results      []search.Result `json:"results"`
		TotalResults int             `json:"total_results"`
		Complete     bool            `json:"complete"`
	}
	require.Eventually(t, func() bool {
		res, err := r.readSearchResults(context.Background(), callReq(map[string]any{
			"session_id": started.SessionID,
		}))
		if err != nil || res.IsError || len(res.Content) == 0 {
			return false
		}
		text, ok := res.Content[0].(mcp.TextContent)
		if !ok || json.Unmarshal([]byte(text.Text), &snapshot) != nil {
			return false
		}
		return snapshot.Complete
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 2, snapshot.TotalResults)
	require.Len(t, snapshot.Results, 2)
	assert.Equal(t, "a.go", snapshot.Results[0].Path)
}

func TestGetConfigTool(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.getConfig(context.Background(), callReq(nil))
	require.NoError(t, err)

	var payload map[string]any
	decodeText(t, res, &payload)

	assert.Contains(t, payload, "blocked_commands")
	assert.Contains(t, payload, "max_search_sessions")
	assert.Equal(t, "/bin/sh", payload["default_shell"])
}
