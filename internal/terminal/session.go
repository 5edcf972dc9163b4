package terminal

import (
	"os"
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle variant a session is currently in.
type State string

const (
	// StateRunning: process alive, caller's wait has not expired.
	StateRunning State = "running"
	// StateBlocked: process alive past the caller's requested timeout.
	StateBlocked State = "blocked"
	// StateCompleted: process exited; exit code recorded.
	StateCompleted State = "completed"
)

// Session tracks one spawned process and its captured output.
type Session struct {
	mu sync.Mutex

	pid       int
	command   string
	startTime time.Time

	buf    *lineBuffer
	cursor int // absolute line index of the next unread line

	blocked   bool
	completed bool
	exitCode  int
	stoppedAt time.Time

	ptmx *os.File
	cmd  *exec.Cmd
	done chan struct{} // closed exactly once, on completion
}

func newSession(cmd *exec.Cmd, ptmx *os.File, command string, maxLines int) *Session {
	return &Session{
		pid:       cmd.Process.Pid,
		command:   command,
		startTime: time.Now(),
		buf:       newLineBuffer(maxLines),
		ptmx:      ptmx,
		cmd:       cmd,
		done:      make(chan struct{}),
	}
}

func (s *Session) append(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(data)
}

func (s *Session) markBlocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.completed {
		s.blocked = true
	}
}

// complete records the exit and flips blocked off: a finished process is
// completed no matter how long the caller waited for it.
func (s *Session) complete(exitCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	s.buf.Flush()
	s.completed = true
	s.blocked = false
	s.exitCode = exitCode
	s.stoppedAt = time.Now()
	close(s.done)
}

// state projects the current lifecycle variant. Callers must hold s.mu.
func (s *Session) state() State {
	switch {
	case s.completed:
		return StateCompleted
	case s.blocked:
		return StateBlocked
	default:
		return StateRunning
	}
}

// snapshotSince returns unread output and advances the cursor.
func (s *Session) snapshotSince() (lines []string, state State, exitCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, s.cursor = s.buf.Since(s.cursor)
	return lines, s.state(), s.exitCode
}
