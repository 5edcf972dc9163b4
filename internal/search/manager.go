// Package search owns search sessions backed by a ripgrep child process:
// incremental match streaming, result/error caps, timeout kill, and a
// destroy-all teardown path.
package search

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/cmdserve/cmdserve/internal/config"
)

const (
	scannerBufSize  = 1024 * 1024
	cleanupInterval = 30 * time.Second
)

var (
	ErrSessionNotFound = errors.New("search session not found")
	ErrBadRoot         = errors.New("invalid search root")
)

// Session tracks one running or finished search.
type Session struct {
	mu sync.Mutex

	id        string
	opts      Options
	startTime time.Time
	stoppedAt time.Time

	results  []Result
	total    int
	complete bool
	timedOut bool

	errBuf []byte
	errCap int

	cmd   *exec.Cmd
	timer *time.Timer
}

// Snapshot is the poll-read view of a session.
type Snapshot struct {
	SessionID    string
	Results      []Result
	TotalResults int
	Complete     bool
	TimedOut     bool
	Error        string
	Runtime      time.Duration
}

// Info is the list view of a session.
type Info struct {
	SessionID    string
	RootPath     string
	Pattern      string
	Type         Type
	Runtime      time.Duration
	Complete     bool
	TotalResults int
}

// Manager is the process-wide owner of search sessions.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	destroyed bool

	provider config.Provider
	logger   *log.Logger
	binary   string

	cleanupStop chan struct{}
	stopOnce    sync.Once
}

// NewManager builds a manager using the given search utility binary
// ("rg" for production; tests may substitute).
func NewManager(provider config.Provider, logger *log.Logger, binary string) *Manager {
	if binary == "" {
		binary = "rg"
	}
	m := &Manager{
		sessions:    make(map[string]*Session),
		provider:    provider,
		logger:      logger,
		binary:      binary,
		cleanupStop: make(chan struct{}),
	}
	go m.runCleanup()
	return m
}

// StartSearch validates the root, spawns the search utility, and returns the
// session id immediately. Matches stream into the session until the process
// exits, the timeout kills it, or StopSearch/Destroy intervenes.
func (m *Manager) StartSearch(opts Options) (*Snapshot, error) {
	cfg, err := m.provider.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration unavailable: %w", err)
	}

	if opts.Pattern == "" {
		return nil, fmt.Errorf("search pattern must not be empty")
	}
	if opts.Type == "" {
		opts.Type = TypeContent
	}
	if opts.Type != TypeContent && opts.Type != TypeFiles {
		return nil, fmt.Errorf("unknown search type %q", opts.Type)
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = cfg.SearchResults
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cfg.SearchTimeout
	}

	info, err := os.Stat(opts.RootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrBadRoot, opts.RootPath)
	}
	if !cfg.PathAllowed(opts.RootPath) {
		return nil, fmt.Errorf("%w: %s is outside the allowed directories", ErrBadRoot, opts.RootPath)
	}

	binPath, err := exec.LookPath(m.binary)
	if err != nil {
		return nil, fmt.Errorf("search utility %q not available: %w", m.binary, err)
	}

	cmd := exec.Command(binPath, rgArgs(opts)...)
	// Own process group so a timeout kill takes out any descendants too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start search utility: %w", err)
	}

	sess := &Session{
		id:        uuid.New().String(),
		opts:      opts,
		startTime: time.Now(),
		errCap:    cfg.MaxErrorBytes,
		cmd:       cmd,
	}
	sess.timer = time.AfterFunc(opts.Timeout, func() { m.timeoutKill(sess) })

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		sess.timer.Stop()
		killGroup(cmd)
		return nil, fmt.Errorf("manager is shut down")
	}
	m.evictOverCapLocked(cfg.MaxSearchSessions)
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	// Wait must not run until both pipes are drained: it closes them.
	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		m.streamResults(sess, stdout)
	}()
	go func() {
		defer streams.Done()
		m.streamErrors(sess, stderr)
	}()
	go m.awaitExit(sess, &streams)

	m.logger.Debug("search started",
		"session_id", sess.id, "root", opts.RootPath, "type", opts.Type)
	return sess.snapshot(), nil
}

// streamResults appends parsed matches up to the cap; the total keeps
// counting past it so callers can see there was more than we stored.
func (m *Manager) streamResults(sess *Session, r interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)

	for scanner.Scan() {
		result, ok := parseLine(scanner.Text(), sess.opts.Type)
		if !ok {
			continue
		}
		sess.mu.Lock()
		sess.total++
		if len(sess.results) < sess.opts.MaxResults {
			sess.results = append(sess.results, result)
		}
		sess.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		// A torn pipe after a timeout kill lands here; trace it and move on.
		m.logger.Debug("search output scanner stopped", "session_id", sess.id, "err", err)
	}
}

// streamErrors accumulates the child's diagnostic stream into the capped
// error buffer; bytes past the cap are dropped, never stored.
func (m *Manager) streamErrors(sess *Session, r interface{ Read([]byte) (int, error) }) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sess.appendError(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) appendError(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.errCap - len(s.errBuf)
	if room <= 0 {
		return
	}
	if len(data) > room {
		data = data[:room]
	}
	s.errBuf = append(s.errBuf, data...)
}

func (m *Manager) awaitExit(sess *Session, streams *sync.WaitGroup) {
	streams.Wait()
	err := sess.cmd.Wait()

	sess.mu.Lock()
	sess.timer.Stop()
	if !sess.complete {
		sess.complete = true
		sess.stoppedAt = time.Now()
	}
	timedOut := sess.timedOut
	total := sess.total
	sess.mu.Unlock()

	// rg exits 1 for "no matches" and 2 for real errors; either way the
	// failure detail is already in the capped error buffer.
	if err != nil && !timedOut {
		m.logger.Debug("search process exited", "session_id", sess.id, "err", err)
	}
	m.logger.Debug("search completed",
		"session_id", sess.id, "total_results", total, "timed_out", timedOut)
}

// timeoutKill fires when a session outlives its budget. Unlike terminal
// sessions, search processes are killed on timeout: a leftover search has no
// side effects worth preserving, only cost.
func (m *Manager) timeoutKill(sess *Session) {
	sess.mu.Lock()
	if sess.complete {
		sess.mu.Unlock()
		return
	}
	sess.timedOut = true
	sess.mu.Unlock()

	killGroup(sess.cmd)
	m.logger.Info("search timed out", "session_id", sess.id, "timeout", sess.opts.Timeout)
}

// ReadSearchResults returns a non-blocking snapshot of the session.
func (m *Manager) ReadSearchResults(sessionID string) (*Snapshot, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.snapshot(), nil
}

// StopSearch kills the session's process early; partial results stay
// readable until the session ages out.
func (m *Manager) StopSearch(sessionID string) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	done := sess.complete
	sess.timer.Stop()
	sess.mu.Unlock()

	if !done {
		killGroup(sess.cmd)
	}
	return nil
}

// ListSearchSessions returns a snapshot of every tracked session.
func (m *Manager) ListSearchSessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sess.mu.Lock()
		infos = append(infos, Info{
			SessionID:    sess.id,
			RootPath:     sess.opts.RootPath,
			Pattern:      sess.opts.Pattern,
			Type:         sess.opts.Type,
			Runtime:      now.Sub(sess.startTime),
			Complete:     sess.complete,
			TotalResults: sess.total,
		})
		sess.mu.Unlock()
	}
	return infos
}

// Destroy kills every tracked child process and clears the table. It is the
// process shutdown hook: after it returns no background search survives.
// Idempotent, callable with zero sessions.
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
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		done := sess.complete
		sess.timer.Stop()
		sess.mu.Unlock()
		if !done {
			killGroup(sess.cmd)
		}
	}
	m.logger.Info("search manager destroyed", "sessions_killed", len(sessions))
}

func (m *Manager) lookup(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

func (s *Session) snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Snapshot{
		SessionID:    s.id,
		Results:      append([]Result(nil), s.results...),
		TotalResults: s.total,
		Complete:     s.complete,
		TimedOut:     s.timedOut,
		Error:        string(s.errBuf),
		Runtime:      time.Since(s.startTime),
	}
}

// evictOverCapLocked drops the oldest completed sessions until the table fits
// under the cap. Running sessions are never evicted.
func (m *Manager) evictOverCapLocked(maxSessions int) {
	for len(m.sessions) >= maxSessions && maxSessions > 0 {
		oldestID := ""
		var oldest time.Time
		for id, sess := range m.sessions {
			sess.mu.Lock()
			candidate := sess.complete && (oldestID == "" || sess.stoppedAt.Before(oldest))
			if candidate {
				oldestID = id
				oldest = sess.stoppedAt
			}
			sess.mu.Unlock()
		}
		if oldestID == "" {
			return
		}
		delete(m.sessions, oldestID)
	}
}

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
	for id, sess := range m.sessions {
		sess.mu.Lock()
		expired := sess.complete && now.Sub(sess.stoppedAt) > retention
		sess.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			m.logger.Debug("search session evicted", "session_id", id)
		}
	}
}

// killGroup takes down the process and its whole group; failures mean the
// target is already gone, which is fine.
func killGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}
