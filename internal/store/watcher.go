package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher calls onChange whenever one file is written or replaced. The
// settings file and the daemon config are both watched this way.
type FileWatcher struct {
	mu       sync.Mutex
	logger   *slog.Logger
	path     string
	onChange func()

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}

	running bool
}

// NewFileWatcher creates a watcher for path. Nothing is watched until Start.
func NewFileWatcher(path string, onChange func(), logger *slog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &FileWatcher{
		logger:   logger,
		path:     path,
		onChange: onChange,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Path returns the watched file.
func (fw *FileWatcher) Path() string {
	return fw.path
}

// Start watches the file's directory, creating it if needed. Atomic saves
// replace the file, so watching the file itself would lose track of it.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return nil
	}

	dir := filepath.Dir(fw.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := fw.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	fw.running = true
	go fw.loop()

	fw.logger.Debug("file watcher started", "path", fw.path)
	return nil
}

func (fw *FileWatcher) loop() {
	defer close(fw.doneCh)

	name := filepath.Base(fw.path)
	for {
		select {
		case <-fw.stopCh:
			return

		case ev, ok := <-fw.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			fw.logger.Debug("watched file changed", "path", fw.path, "op", ev.Op.String())
			if fw.onChange != nil {
				fw.onChange()
			}

		case err, ok := <-fw.fsw.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("file watcher error", "path", fw.path, "error", err)
		}
	}
}

// Stop stops watching and waits for an onChange call in progress. It must
// not be called from onChange.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	wasRunning := fw.running
	fw.running = false
	select {
	case <-fw.stopCh:
		fw.mu.Unlock()
		return nil
	default:
		close(fw.stopCh)
	}
	fw.mu.Unlock()

	err := fw.fsw.Close()
	if wasRunning {
		<-fw.doneCh
	}
	return err
}
