package terminal

import (
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/cmdserve/cmdserve/internal/config"
	"github.com/cmdserve/cmdserve/internal/guard"
	"github.com/cmdserve/cmdserve/internal/logging"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.ExecTimeout = 5 * time.Second
	return &cfg
}

func newTestManager(t *testing.T, cfg *config.Config) *Manager {
	t.Helper()
	provider := config.Static{Config: cfg}
	logger := logging.Discard()
	m := NewManager(provider, guard.New(provider, logger), logger)
	t.Cleanup(m.Destroy)
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestExecuteCommandCompletes(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand("echo hello", 5*time.Second)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if result.PID <= 0 {
		t.Fatalf("PID = %d, want > 0", result.PID)
	}
	if result.Blocked {
		t.Fatal("Blocked = true for a fast command")
	}
	if !strings.Contains(result.Output, "hello") {
		t.Fatalf("Output = %q, want it to contain %q", result.Output, "hello")
	}
}

func TestExecuteCommandBlockedByPolicy(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand("ls; sudo id", 5*time.Second)
	if !errors.Is(err, ErrCommandBlocked) {
		t.Fatalf("err = %v, want ErrCommandBlocked", err)
	}
	if result != nil {
		t.Fatalf("result = %+v, want nil", result)
	}
	if got := len(m.ListActiveSessions()); got != 0 {
		t.Fatalf("active sessions = %d after denial, want 0", got)
	}
}

func TestExecuteCommandFailsClosedWithoutConfig(t *testing.T) {
	provider := config.Static{Err: errors.New("config gone")}
	logger := logging.Discard()
	m := NewManager(provider, guard.New(provider, logger), logger)
	t.Cleanup(m.Destroy)

	if _, err := m.ExecuteCommand("echo hi", time.Second); !errors.Is(err, ErrCommandBlocked) {
		t.Fatalf("err = %v, want ErrCommandBlocked", err)
	}
}

func TestExecuteCommandSpawnFailure(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultShell = "/nonexistent/shell/binary"
	m := newTestManager(t, cfg)

	result, err := m.ExecuteCommand("echo hi", time.Second)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if result.PID != -1 {
		t.Fatalf("PID = %d, want -1 for a failed spawn", result.PID)
	}
	if !strings.Contains(result.Output, "failed to start command") {
		t.Fatalf("Output = %q, want a spawn failure reason", result.Output)
	}
	if got := len(m.ListActiveSessions()); got != 0 {
		t.Fatalf("active sessions = %d after spawn failure, want 0", got)
	}
}

func TestExecuteCommandTimeoutLeavesProcessRunning(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand("echo started; sleep 30", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !result.Blocked {
		t.Fatal("Blocked = false, want true past the timeout")
	}
	if !strings.Contains(result.Output, "started") {
		t.Fatalf("Output = %q, want pre-timeout output", result.Output)
	}

	// The session must stay alive and listed; the timeout never kills it.
	active := m.ListActiveSessions()
	if len(active) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(active))
	}
	if active[0].PID != result.PID || !active[0].Blocked {
		t.Fatalf("active session = %+v, want blocked pid %d", active[0], result.PID)
	}

	if err := m.ForceTerminate(result.PID); err != nil {
		t.Fatalf("ForceTerminate: %v", err)
	}
	if got := len(m.ListActiveSessions()); got != 0 {
		t.Fatalf("active sessions = %d after terminate, want 0", got)
	}

	// Terminating again must stay a no-op.
	if err := m.ForceTerminate(result.PID); err != nil {
		t.Fatalf("second ForceTerminate: %v", err)
	}
}

func TestReadOutputIncremental(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand(
		"i=0; while [ $i -lt 50 ]; do i=$((i+1)); echo tick-$i; sleep 0.05; done",
		200*time.Millisecond)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !result.Blocked {
		t.Fatal("Blocked = false, want true")
	}

	var collected strings.Builder
	collected.WriteString(result.Output)
	waitFor(t, 3*time.Second, "new output after the timeout", func() bool {
		chunk, err := m.ReadOutput(result.PID)
		if err != nil {
			t.Fatalf("ReadOutput: %v", err)
		}
		collected.WriteString("\n")
		collected.WriteString(chunk.Output)
		return strings.Contains(collected.String(), "tick-10")
	})

	if err := m.ForceTerminate(result.PID); err != nil {
		t.Fatalf("ForceTerminate: %v", err)
	}
}

func TestReadOutputUnknownSession(t *testing.T) {
	m := newTestManager(t, testConfig())

	if _, err := m.ReadOutput(999999); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestReadOutputCompletedState(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand("exit 3", 5*time.Second)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}

	chunk, err := m.ReadOutput(result.PID)
	if err != nil {
		t.Fatalf("ReadOutput: %v", err)
	}
	if chunk.State != StateCompleted {
		t.Fatalf("State = %q, want %q", chunk.State, StateCompleted)
	}
	if chunk.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", chunk.ExitCode)
	}
}

func TestOutputLineCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOutputLines = 50
	m := newTestManager(t, cfg)

	result, err := m.ExecuteCommand(
		"i=0; while [ $i -lt 200 ]; do i=$((i+1)); echo line-$i; done",
		5*time.Second)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if result.Blocked {
		t.Fatal("Blocked = true, want completion")
	}

	page, err := m.ReadOutputPaginated(result.PID, 0, 100)
	if err != nil {
		t.Fatalf("ReadOutputPaginated: %v", err)
	}
	if page.TotalLines != 200 {
		t.Fatalf("TotalLines = %d, want 200", page.TotalLines)
	}
	if page.Retained != 50 {
		t.Fatalf("Retained = %d, want 50", page.Retained)
	}
	if !page.Complete {
		t.Fatal("Complete = false, want true")
	}
	if got := page.Lines[len(page.Lines)-1]; got != "line-200" {
		t.Fatalf("last retained line = %q, want line-200", got)
	}
}

func TestReadOutputPaginated(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand(
		"i=0; while [ $i -lt 25 ]; do i=$((i+1)); echo line-$i; done",
		5*time.Second)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}

	page, err := m.ReadOutputPaginated(result.PID, 1, 10)
	if err != nil {
		t.Fatalf("ReadOutputPaginated: %v", err)
	}
	if len(page.Lines) != 10 || page.Lines[0] != "line-11" {
		t.Fatalf("page 1 = %v", page.Lines)
	}

	// Pagination must not disturb the incremental cursor (already consumed by
	// ExecuteCommand), so a fresh ReadOutput stays empty.
	chunk, err := m.ReadOutput(result.PID)
	if err != nil {
		t.Fatalf("ReadOutput: %v", err)
	}
	if chunk.Output != "" {
		t.Fatalf("ReadOutput after pagination = %q, want empty", chunk.Output)
	}
}

func TestSendInput(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand("cat", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !result.Blocked {
		t.Fatal("Blocked = false, want a blocked cat session")
	}

	if err := m.SendInput(result.PID, "ping-pong", false); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	var collected strings.Builder
	waitFor(t, 3*time.Second, "echoed input", func() bool {
		chunk, err := m.ReadOutput(result.PID)
		if err != nil {
			t.Fatalf("ReadOutput: %v", err)
		}
		collected.WriteString(chunk.Output)
		return strings.Contains(collected.String(), "ping-pong")
	})

	if err := m.ForceTerminate(result.PID); err != nil {
		t.Fatalf("ForceTerminate: %v", err)
	}
}

func TestSendInputCompletedSession(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand("true", 5*time.Second)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}

	if err := m.SendInput(result.PID, "hi", false); !errors.Is(err, ErrSessionDone) {
		t.Fatalf("err = %v, want ErrSessionDone", err)
	}
}

func TestDestroy(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand("sleep 30", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !result.Blocked {
		t.Fatal("Blocked = false, want true")
	}

	m.Destroy()
	if got := len(m.ListActiveSessions()); got != 0 {
		t.Fatalf("active sessions = %d after destroy, want 0", got)
	}

	// Idempotent, including with zero sessions left.
	m.Destroy()

	after, err := m.ExecuteCommand("echo hi", time.Second)
	if err != nil {
		t.Fatalf("ExecuteCommand after destroy: %v", err)
	}
	if after.PID != -1 {
		t.Fatalf("PID = %d after destroy, want -1", after.PID)
	}
}

func TestDestroyKillsSigtermIgnoringProcess(t *testing.T) {
	m := newTestManager(t, testConfig())

	result, err := m.ExecuteCommand(
		"trap '' TERM; while :; do sleep 0.1; done",
		200*time.Millisecond)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !result.Blocked {
		t.Fatal("Blocked = false, want true")
	}

	// Destroy must not return before the escalation to SIGKILL has been
	// sent; the shell above shrugs off the polite signal.
	m.Destroy()

	waitFor(t, 3*time.Second, "TERM-ignoring process to die", func() bool {
		return syscall.Kill(result.PID, 0) != nil
	})
}

func TestDestroyWithZeroSessions(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Destroy()
	m.Destroy()
}
