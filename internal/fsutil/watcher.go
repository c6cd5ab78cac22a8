package fsutil

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StackEvent reports a stack file that stopped changing.
type StackEvent struct {
	Path string
	Size int64
	Time time.Time
}

// StackWatcher monitors directories for stack files. A file is reported once
// no create or write event has been seen for it during the settle period, so
// files still being copied are not picked up half written.
type StackWatcher struct {
	watcher *fsnotify.Watcher
	Events  chan StackEvent
	dirs    []string
	settle  time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewStackWatcher creates a watcher over dirs.
func NewStackWatcher(dirs []string, settle time.Duration, log *slog.Logger) (*StackWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &StackWatcher{
		watcher: w,
		Events:  make(chan StackEvent, 100),
		dirs:    dirs,
		settle:  settle,
		log:     log,
		pending: make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is cancelled, then closes Events.
func (sw *StackWatcher) Run(ctx context.Context) error {
	for _, dir := range sw.dirs {
		if err := sw.watcher.Add(dir); err != nil {
			sw.watcher.Close()
			close(sw.Events)
			return err
		}
		sw.log.Info("watching directory", "path", dir)
	}
	defer close(sw.Events)
	defer sw.watcher.Close()

	tick := time.NewTicker(sw.settle / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !IsStackFile(event.Name) {
				continue
			}
			sw.mu.Lock()
			sw.pending[event.Name] = time.Now()
			sw.mu.Unlock()

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return nil
			}
			sw.log.Warn("filesystem watcher error", "error", err)

		case now := <-tick.C:
			sw.flush(now)
		}
	}
}

func (sw *StackWatcher) flush(now time.Time) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	for path, last := range sw.pending {
		if now.Sub(last) < sw.settle {
			continue
		}
		delete(sw.pending, path)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		select {
		case sw.Events <- StackEvent{Path: path, Size: info.Size(), Time: now}:
		default:
			sw.log.Warn("event buffer full, dropping stack", "path", path)
		}
	}
}
