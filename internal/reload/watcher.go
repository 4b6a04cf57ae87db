// Package reload applies configuration changes to a running toolhost: it
// watches the config file, re-seeds the settings layers and reloads
// modules that support it.
package reload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/toolhost/internal/debounce"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultSettleDelay  = 500 * time.Millisecond
)

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// PollInterval is how often to check for file changes.
	// Defaults to 5 seconds if zero.
	PollInterval time.Duration

	// SettleDelay is the wait between the first detected change and the
	// event, so that an editor writing a file several times per save
	// produces one reload. Defaults to 500ms.
	SettleDelay time.Duration
}

// Event represents a config file change.
type Event struct {
	ConfigPath string
}

// Watcher polls a configuration file and emits an event when its content
// changes. Touching the file without changing it emits nothing.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}
	settle  *debounce.Scheduler

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	w := &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	w.settle = debounce.NewScheduler(cfg.SettleDelay, w.emit)
	return w
}

// Start begins polling the config file for changes. Safe to call multiple
// times; only the first call starts the goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.poll(ctx)
	})
}

// Events returns the channel of file change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher and drops a pending event. Safe to call multiple
// times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
	w.settle.Cancel()
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	last := w.digest()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			current := w.digest()
			if current == nil || bytes.Equal(current, last) {
				continue
			}
			last = current
			w.settle.Schedule()
		}
	}
}

func (w *Watcher) emit() {
	select {
	case w.events <- Event{ConfigPath: w.cfg.ConfigPath}:
	default:
		// An unread event already covers this change.
	}
}

// digest returns the content hash of the config file, or nil when it
// cannot be read (e.g. mid-rename).
func (w *Watcher) digest() []byte {
	raw, err := os.ReadFile(w.cfg.ConfigPath)
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(raw)
	return sum[:]
}
