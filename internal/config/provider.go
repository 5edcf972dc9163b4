package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Provider supplies the current security configuration. Callers must treat a
// returned error as "no configuration available" and fail closed.
type Provider interface {
	GetConfig() (*Config, error)
}

// Static wraps a fixed Config. Used by tests and by CLI one-shots that load
// config once at startup.
type Static struct {
	Config *Config
	Err    error
}

func (s Static) GetConfig() (*Config, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Config == nil {
		return nil, fmt.Errorf("no configuration available")
	}
	return s.Config, nil
}

// FileProvider serves a cached config parsed from the overlay paths and
// reloads it when any of the files change on disk.
type FileProvider struct {
	mu      sync.RWMutex
	paths   []string
	cached  *Config
	loadErr error
	watcher *fsnotify.Watcher
	done    chan struct{}
	onError func(error)
}

// NewFileProvider loads the configuration once and starts watching the given
// paths (defaults to Paths() when empty). onError receives reload failures;
// the previous good config stays served in that case, but the initial load
// error is sticky until a successful reload.
func NewFileProvider(onError func(error), paths ...string) (*FileProvider, error) {
	if len(paths) == 0 {
		paths = Paths()
	}
	p := &FileProvider{
		paths:   paths,
		done:    make(chan struct{}),
		onError: onError,
	}
	p.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	p.watcher = watcher
	for _, path := range paths {
		// Watch the parent directory, not the file: a file that does not
		// exist yet (or is replaced on save) still produces events by name.
		// A missing parent directory stays best effort.
		_ = watcher.Add(filepath.Dir(path))
	}
	go p.watch()

	return p, nil
}

func (p *FileProvider) GetConfig() (*Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached == nil {
		if p.loadErr != nil {
			return nil, p.loadErr
		}
		return nil, fmt.Errorf("configuration not loaded")
	}
	return p.cached, nil
}

func (p *FileProvider) reload() {
	cfg, err := Load(p.paths...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.loadErr = err
		if p.onError != nil {
			p.onError(err)
		}
		return
	}
	p.cached = cfg
	p.loadErr = nil
}

func (p *FileProvider) watch() {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Directory watches see every sibling; only our files matter.
			if p.watchedPath(event.Name) {
				p.reload()
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			if p.onError != nil {
				p.onError(err)
			}
		}
	}
}

func (p *FileProvider) watchedPath(name string) bool {
	name = filepath.Clean(name)
	for _, path := range p.paths {
		if filepath.Clean(path) == name {
			return true
		}
	}
	return false
}

// Close stops the watcher. Safe to call once.
func (p *FileProvider) Close() error {
	close(p.done)
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
