// Package terminal owns the lifecycle of command sessions: spawned processes,
// their capped output buffers, and the timeout/blocked read contract.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"

	"github.com/cmdserve/cmdserve/internal/config"
	"github.com/cmdserve/cmdserve/internal/guard"
)

const (
	readBufferSize  = 4096
	readDeadline    = 100 * time.Millisecond
	killGracePeriod = 100 * time.Millisecond
	cleanupInterval = 30 * time.Second
	defaultPageSize = 100
	maxPageSize     = 1000
)

var (
	ErrCommandBlocked  = errors.New("command blocked by security policy")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionDone     = errors.New("session already completed")
)

// ExecResult is what ExecuteCommand hands back. A PID of -1 signals that the
// process never started; Output then carries the reason.
type ExecResult struct {
	PID     int
	Output  string
	Blocked bool
}

// OutputChunk is the incremental read result: output that arrived since the
// previous read plus the session's current state.
type OutputChunk struct {
	Output   string
	State    State
	ExitCode int
}

// OutputPage is one bounded slice of a session's buffered output.
type OutputPage struct {
	Lines      []string
	TotalLines int
	Retained   int
	Complete   bool
}

// ActiveSession is a point-in-time view of a not-yet-completed session.
type ActiveSession struct {
	PID     int
	Command string
	Runtime time.Duration
	Blocked bool
}

// Manager is the process-wide owner of terminal sessions. Construct once,
// tear down with Destroy.
type Manager struct {
	mu        sync.Mutex
	sessions  map[int]*Session
	destroyed bool

	provider  config.Provider
	validator *guard.Validator
	logger    *log.Logger

	cleanupStop chan struct{}
	stopOnce    sync.Once
}

func NewManager(provider config.Provider, validator *guard.Validator, logger *log.Logger) *Manager {
	m := &Manager{
		sessions:    make(map[int]*Session),
		provider:    provider,
		validator:   validator,
		logger:      logger,
		cleanupStop: make(chan struct{}),
	}
	go m.runCleanup()
	return m
}

// ExecuteCommand validates, spawns, and waits up to timeout for completion.
// On timeout the process is left running and the partial output is returned
// with Blocked=true; slow commands are the caller's to terminate, not ours.
func (m *Manager) ExecuteCommand(command string, timeout time.Duration) (*ExecResult, error) {
	if !m.validator.Validate(command) {
		return nil, fmt.Errorf("%w: %s", ErrCommandBlocked, command)
	}

	cfg, err := m.provider.GetConfig()
	if err != nil {
		// The validator read the config an instant ago; losing it here still
		// means we cannot know the policy, so refuse to spawn.
		return nil, fmt.Errorf("%w: configuration unavailable: %v", ErrCommandBlocked, err)
	}
	if timeout <= 0 {
		timeout = cfg.ExecTimeout
	}

	shell := cfg.DefaultShell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		// Spawn failures are a session-shaped result, not an error: the
		// caller needs something to report, not a stack to unwind.
		return &ExecResult{PID: -1, Output: fmt.Sprintf("failed to start command: %v", err)}, nil
	}

	sess := newSession(cmd, ptmx, command, cfg.MaxOutputLines)

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		m.kill(sess)
		return &ExecResult{PID: -1, Output: "manager is shut down"}, nil
	}
	m.sessions[sess.pid] = sess
	m.mu.Unlock()

	go m.capture(sess)

	select {
	case <-sess.done:
	case <-time.After(timeout):
		sess.markBlocked()
	}

	lines, state, _ := sess.snapshotSince()
	return &ExecResult{
		PID:     sess.pid,
		Output:  strings.Join(lines, "\n"),
		Blocked: state == StateBlocked,
	}, nil
}

// capture drains the pty into the session buffer until the process exits.
// It is the only goroutine that mutates this session's buffer.
func (m *Manager) capture(sess *Session) {
	buf := make([]byte, readBufferSize)
	for {
		if err := sess.ptmx.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			m.logger.Debug("set read deadline", "pid", sess.pid, "err", err)
		}
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			sess.append(buf[:n])
		}
		if err != nil && !isTimeout(err) {
			// EOF or EIO: the child closed its side. Everything else is
			// logged and also ends the loop; the Wait below still reaps.
			if !isPtyClosed(err) {
				m.logger.Warn("session read failed", "pid", sess.pid, "err", err)
			}
			break
		}
	}

	exitCode := 0
	if err := sess.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			m.logger.Warn("session wait failed", "pid", sess.pid, "err", err)
			exitCode = -1
		}
	}
	if err := sess.ptmx.Close(); err != nil {
		m.logger.Debug("close pty", "pid", sess.pid, "err", err)
	}

	sess.complete(exitCode)
	m.logger.Debug("session completed", "pid", sess.pid, "exit_code", exitCode)
}

// ReadOutput returns output that arrived since the previous ReadOutput or
// ExecuteCommand return, advancing the session's read cursor.
func (m *Manager) ReadOutput(pid int) (*OutputChunk, error) {
	sess, err := m.lookup(pid)
	if err != nil {
		return nil, err
	}
	lines, state, exitCode := sess.snapshotSince()
	return &OutputChunk{
		Output:   strings.Join(lines, "\n"),
		State:    state,
		ExitCode: exitCode,
	}, nil
}

// ReadOutputPaginated returns one page of the buffered output without moving
// the incremental read cursor. Valid on completed sessions until they age out
// of the table.
func (m *Manager) ReadOutputPaginated(pid, page, pageSize int) (*OutputPage, error) {
	sess, err := m.lookup(pid)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return &OutputPage{
		Lines:      sess.buf.Page(page, pageSize),
		TotalLines: sess.buf.Total(),
		Retained:   sess.buf.Retained(),
		Complete:   sess.completed,
	}, nil
}

// SendInput writes to the session's pty. Raw mode interprets escape
// sequences (\x03 for Ctrl+C and the like) and suppresses the trailing
// newline.
func (m *Manager) SendInput(pid int, input string, raw bool) error {
	sess, err := m.lookup(pid)
	if err != nil {
		return err
	}

	if raw {
		input, err = interpretEscapes(input)
		if err != nil {
			return fmt.Errorf("interpret escape sequences: %w", err)
		}
	} else {
		input += "\n"
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.completed {
		return fmt.Errorf("%w: pid %d", ErrSessionDone, pid)
	}
	if _, err := sess.ptmx.WriteString(input); err != nil {
		return fmt.Errorf("write to session %d: %w", pid, err)
	}
	return nil
}

// ForceTerminate kills the session's process and removes the session. A pid
// that is unknown or already dead is a no-op so sweeping teardown loops never
// abort partway.
func (m *Manager) ForceTerminate(pid int) error {
	m.mu.Lock()
	sess, ok := m.sessions[pid]
	if ok {
		delete(m.sessions, pid)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	m.kill(sess)
	m.logger.Info("session terminated", "pid", pid)
	return nil
}

// kill signals SIGTERM, then SIGKILL once the grace period passes without an
// exit. It returns only after the escalation is settled, so shutdown paths
// that exit the process right after cannot leave a TERM-ignoring child
// behind. Signals to already-reaped processes fail silently, which is what
// we want.
func (m *Manager) kill(sess *Session) {
	sess.mu.Lock()
	completed := sess.completed
	proc := sess.cmd.Process
	sess.mu.Unlock()

	if completed || proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	select {
	case <-sess.done:
	case <-time.After(killGracePeriod):
		_ = proc.Signal(syscall.SIGKILL)
	}
}

// ListActiveSessions returns a snapshot of sessions whose process has not
// exited.
func (m *Manager) ListActiveSessions() []ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	active := make([]ActiveSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sess.mu.Lock()
		if !sess.completed {
			active = append(active, ActiveSession{
				PID:     sess.pid,
				Command: sess.command,
				Runtime: now.Sub(sess.startTime),
				Blocked: sess.blocked,
			})
		}
		sess.mu.Unlock()
	}
	return active
}

// Destroy kills every tracked process and clears the table. Idempotent and
// safe with zero sessions; the only teardown path.
func (m *Manager) Destroy() {
	m.stopOnce.Do(func() { close(m.cleanupStop) })

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[int]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		m.kill(sess)
	}
	m.logger.Info("terminal manager destroyed", "sessions_killed", len(sessions))
}

func (m *Manager) lookup(pid int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", ErrSessionNotFound, pid)
	}
	return sess, nil
}

// runCleanup evicts completed sessions once they outlive the retention
// window. Blocked-but-alive sessions are never collected here.
func (m *Manager) runCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.cleanupStop:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Manager) evictExpired() {
	retention := config.DefaultSessionRetention
	if cfg, err := m.provider.GetConfig(); err == nil {
		retention = cfg.SessionRetention
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for pid, sess := range m.sessions {
		sess.mu.Lock()
		expired := sess.completed && now.Sub(sess.stoppedAt) > retention
		sess.mu.Unlock()
		if expired {
			delete(m.sessions, pid)
			m.logger.Debug("session evicted", "pid", pid)
		}
	}
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

// isPtyClosed matches the errors a pty read returns once the child hangs up:
// plain EOF, EIO from the closed slave side, or our own Close racing the read.
func isPtyClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO)
}
