// Package reload re-applies the configuration file to running modules,
// either on demand or when a poll notices the file content changed.
package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures a Watcher. A zero PollInterval means 5s.
type WatcherConfig struct {
	ConfigPath   string
	PollInterval time.Duration
}

// Event reports new content in the watched file.
type Event struct {
	ConfigPath string
	// Digest is the hex SHA-256 of the new content.
	Digest string
}

// Watcher emits an Event when the content digest of a configuration file
// changes. Filesystem notifications on the parent directory make changes
// visible immediately and the poll interval bounds the delay when they are
// unavailable. Rewriting the file with identical bytes emits nothing.
type Watcher struct {
	path     string
	interval time.Duration
	events   chan Event
	stop     chan struct{}
	stopped  chan struct{}

	started  atomic.Bool
	stopOnce sync.Once
}

// NewWatcher returns an idle watcher; call Start to begin watching.
func NewWatcher(cfg WatcherConfig) *Watcher {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{
		path:     cfg.ConfigPath,
		interval: interval,
		events:   make(chan Event, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the watch loop. Later calls are no-ops.
func (w *Watcher) Start(ctx context.Context) {
	if w.started.CompareAndSwap(false, true) {
		go w.poll(ctx)
	}
}

// Events delivers at most one pending change at a time.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop ends the watch loop and waits for it. It may be called repeatedly,
// and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Watch the directory: editors often replace the file by rename,
	// which drops a watch on the file itself.
	var notify <-chan fsnotify.Event
	if fw, err := fsnotify.NewWatcher(); err == nil {
		defer fw.Close()
		if fw.Add(filepath.Dir(w.path)) == nil {
			notify = fw.Events
		}
	}
	name := filepath.Base(w.path)

	last := w.digest()
	check := func() {
		current := w.digest()
		// Unreadable files (mid-rename, deleted) are skipped.
		if current == "" || current == last {
			return
		}
		last = current
		select {
		case w.events <- Event{ConfigPath: w.path, Digest: current}:
		default:
			// A reload is already pending.
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				check()
			}
		case <-ticker.C:
			check()
		}
	}
}

func (w *Watcher) digest() string {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
