// Package watcher turns fsnotify directory events into per-path change
// notifications for the local sandbox.
//
// Each subscribed path is watched through its parent directory so that
// atomic replace-by-rename writes are observed. Notifications are coalesced:
// a subscriber that falls behind sees only the latest event.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/playground/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

type subscription struct {
	path   string
	dirs   []string
	events chan ChangeEvent
}

// FileWatcher multiplexes one fsnotify watcher over many path subscriptions.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	logger    logging.Logger
	subs      map[uint64]*subscription
	dirs      map[string]int
	nextID    uint64
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	mutex     sync.Mutex
}

// NewFileWatcher creates a new file watcher and starts its event loop.
func NewFileWatcher(logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher: watcher,
		logger:  logger.WithComponent("watcher"),
		subs:    make(map[uint64]*subscription),
		dirs:    make(map[string]int),
		done:    make(chan struct{}),
	}
	go fw.watchLoop()

	return fw, nil
}

// Watch subscribes to changes of path until ctx ends, at which point the
// returned channel is closed. The parent directory of path must exist.
func (fw *FileWatcher) Watch(ctx context.Context, path string) (<-chan ChangeEvent, error) {
	cleanPath, err := validatePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	dirs := []string{filepath.Dir(cleanPath)}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		dirs = append(dirs, cleanPath)
	}

	fw.mutex.Lock()
	if fw.closed {
		fw.mutex.Unlock()
		return nil, fmt.Errorf("watcher closed")
	}
	for i, dir := range dirs {
		if fw.dirs[dir] == 0 {
			if err := fw.watcher.Add(dir); err != nil {
				fw.releaseDirsLocked(dirs[:i])
				fw.mutex.Unlock()
				return nil, fmt.Errorf("watch %s: %w", dir, err)
			}
		}
		fw.dirs[dir]++
	}

	id := fw.nextID
	fw.nextID++
	sub := &subscription{
		path:   cleanPath,
		dirs:   dirs,
		events: make(chan ChangeEvent, 1),
	}
	fw.subs[id] = sub
	fw.mutex.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-fw.done:
		}
		fw.unsubscribe(id)
	}()

	return sub.events, nil
}

func (fw *FileWatcher) unsubscribe(id uint64) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	sub, ok := fw.subs[id]
	if !ok {
		return
	}
	delete(fw.subs, id)
	close(sub.events)
	if !fw.closed {
		fw.releaseDirsLocked(sub.dirs)
	}
}

func (fw *FileWatcher) releaseDirsLocked(dirs []string) {
	for _, dir := range dirs {
		fw.dirs[dir]--
		if fw.dirs[dir] <= 0 {
			delete(fw.dirs, dir)
			// The directory may already be gone, which drops the watch anyway.
			_ = fw.watcher.Remove(dir)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (fw *FileWatcher) Subscribers() int {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	return len(fw.subs)
}

// validatePath cleans a path and requires it to be absolute
func validatePath(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("path %s is not absolute", path)
	}
	return cleanPath, nil
}

// Close stops the watcher and closes every subscription channel.
func (fw *FileWatcher) Close() error {
	var err error
	fw.closeOnce.Do(func() {
		fw.mutex.Lock()
		fw.closed = true
		fw.mutex.Unlock()

		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			fw.logger.Warn(context.Background(), err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	var modTime time.Time
	var size int64
	if info, err := os.Stat(event.Name); err == nil {
		modTime = info.ModTime()
		size = info.Size()
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	changeEvent := ChangeEvent{
		Type:    eventType,
		Path:    filepath.Clean(event.Name),
		ModTime: modTime,
		Size:    size,
	}

	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	for _, sub := range fw.subs {
		if !matches(sub.path, changeEvent.Path) {
			continue
		}
		// Replace an undelivered event with the newer one.
		select {
		case <-sub.events:
		default:
		}
		sub.events <- changeEvent
	}
}

func matches(watched, changed string) bool {
	return changed == watched || strings.HasPrefix(changed, watched+string(filepath.Separator))
}
