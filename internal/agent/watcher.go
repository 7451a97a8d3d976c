package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/plugin"
)

// DefaultDebounce is how long the watcher waits for descriptor writes to
// settle before reloading.
const DefaultDebounce = 200 * time.Millisecond

// PluginWatcher reloads plugins when descriptor files change
type PluginWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	paths     []string
	logger    *zap.Logger
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewPluginWatcher creates a watcher over the plugin paths. onChange gets
// the changed descriptor files after they settle.
func NewPluginWatcher(paths []string, debounce time.Duration, logger *zap.Logger, onChange func([]string) error) (*PluginWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	pw := &PluginWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(debounce),
		paths:     paths,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
	pw.debouncer.SetCallback(func(files []string) {
		if err := onChange(files); err != nil {
			logger.Error("plugin reload failed", zap.Strings("files", files), zap.Error(err))
		}
	})
	return pw, nil
}

// Watch reloads a on every settled change under its plugin paths.
func Watch(a *Agent, paths []string, logger *zap.Logger) (*PluginWatcher, error) {
	pw, err := NewPluginWatcher(paths, DefaultDebounce, logger, func(files []string) error {
		report, err := a.ReloadPaths(paths...)
		if err != nil {
			return err
		}
		logger.Info("plugins reloaded",
			zap.Strings("changed", files),
			zap.Int("advice", report.Advice),
			zap.Int("retransformed", len(report.Retransformed)),
			zap.Int("failed", len(report.Failed)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := pw.Start(); err != nil {
		_ = pw.Stop()
		return nil, err
	}
	return pw, nil
}

// Start begins watching. Directories are watched directly; for a file the
// directory holding it is watched.
func (pw *PluginWatcher) Start() error {
	dirs, err := pw.directories()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := pw.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		pw.logger.Debug("watching plugin directory", zap.String("dir", dir))
	}

	pw.wg.Add(1)
	go pw.watch()
	return nil
}

// Stop stops the watcher
func (pw *PluginWatcher) Stop() error {
	select {
	case <-pw.stopChan:
		return nil
	default:
		close(pw.stopChan)
	}

	pw.wg.Wait()
	pw.debouncer.Stop()
	return pw.watcher.Close()
}

func (pw *PluginWatcher) watch() {
	defer pw.wg.Done()

	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if !pw.relevant(event) {
				continue
			}
			pw.logger.Debug("plugin descriptor changed",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()))
			pw.debouncer.Add(event.Name)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Warn("watch error", zap.Error(err))

		case <-pw.stopChan:
			return
		}
	}
}

func (pw *PluginWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || !plugin.IsDescriptor(base) {
		return false
	}
	return pw.covers(event.Name)
}

// covers reports whether file is one of the watched paths or sits in a
// watched directory.
func (pw *PluginWatcher) covers(file string) bool {
	clean := filepath.Clean(file)
	for _, p := range pw.paths {
		p = filepath.Clean(p)
		if clean == p {
			return true
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() && filepath.Dir(clean) == p {
			return true
		}
	}
	return false
}

func (pw *PluginWatcher) directories() ([]string, error) {
	seen := make(map[string]bool)
	for _, p := range pw.paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("plugin path %s: %w", p, err)
		}
		dir := p
		if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		seen[filepath.Clean(dir)] = true
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Debouncer collects changed files and hands them to a callback once no
// new change arrived for its duration
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	files    map[string]struct{}
	mutex    sync.Mutex
	callback func([]string)
	stopped  bool
}

// NewDebouncer creates a new debouncer instance
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{
		duration: duration,
		files:    make(map[string]struct{}),
	}
}

// Add records a changed file and restarts the delay
func (d *Debouncer) Add(file string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.stopped {
		return
	}

	d.files[file] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.flush)
}

// flush triggers the callback with the accumulated files, sorted
func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.files) == 0 || d.stopped {
		d.mutex.Unlock()
		return
	}
	files := make([]string, 0, len(d.files))
	for file := range d.files {
		files = append(files, file)
	}
	d.files = make(map[string]struct{})
	callback := d.callback
	d.mutex.Unlock()

	sort.Strings(files)
	if callback != nil {
		callback(files)
	}
}

// SetCallback sets the callback function
func (d *Debouncer) SetCallback(callback func([]string)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.callback = callback
}

// Stop cancels a pending flush
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.stopped = true
}
