// Package watch invalidates cached analysis when closed files change on
// disk. It watches the workspace roots with fsnotify, debounces the
// event stream, and forwards each settled change to the engine.
package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// sourceSuffix limits watching to demo language sources.
const sourceSuffix = ".kiln"

// defaultDebounce batches editor save bursts into one invalidation.
const defaultDebounce = 100 * time.Millisecond

// Target consumes settled disk changes.
type Target interface {
	// FileChanged is called once per settled change. Implementations
	// decide whether the path's cached state must go.
	FileChanged(path string) int
}

// RemoveFunc is an optional hook for deleted files.
type RemoveFunc func(path string)

// Watcher drives closed-file cache invalidation from disk events.
type Watcher struct {
	logger   *zap.Logger
	target   Target
	onRemove RemoveFunc
	fsw      *fsnotify.Watcher
	debounce time.Duration

	changes  chan change
	done     chan struct{}
	stopOnce sync.Once
}

type change struct {
	path    string
	removed bool
}

// Options tunes a Watcher.
type Options struct {
	// Debounce is the settle window for event bursts. Zero uses the
	// default.
	Debounce time.Duration

	// OnRemove is called for deleted or renamed-away files, after the
	// target's invalidation.
	OnRemove RemoveFunc
}

// New creates a watcher delivering settled changes to target.
func New(target Target, logger *zap.Logger, opts Options) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	return &Watcher{
		logger:   logger,
		target:   target,
		onRemove: opts.OnRemove,
		fsw:      fsw,
		debounce: debounce,
		changes:  make(chan change, 256),
		done:     make(chan struct{}),
	}, nil
}

// Watch adds root and its subdirectories to the watch set.
func (w *Watcher) Watch(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep walking
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); name == ".git" || name == "node_modules" {
			return filepath.SkipDir
		}

		return w.fsw.Add(path)
	})
}

// Start runs the watcher until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
}

// Stop closes the underlying watcher and stops both loops.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("watcher close", zap.Error(err))
		}
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			// New directories join the watch set so nested creation is
			// covered. Watch no-ops on plain files.
			if event.Has(fsnotify.Create) {
				if err := w.Watch(event.Name); err != nil {
					w.logger.Debug("watch add", zap.Error(err))
				}
			}

			if filepath.Ext(event.Name) != sourceSuffix {
				continue
			}

			c := change{
				path:    event.Name,
				removed: event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename),
			}

			select {
			case w.changes <- c:
			default:
				w.logger.Warn("change buffer full, dropping event",
					zap.String("path", event.Name))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// debounceLoop batches changes and forwards each settled path once.
func (w *Watcher) debounceLoop(ctx context.Context) {
	batch := make(map[string]change)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		for _, c := range batch {
			removed := w.target.FileChanged(c.path)
			w.logger.Debug("disk change applied",
				zap.String("path", c.path),
				zap.Bool("removed", c.removed),
				zap.Int("invalidated", removed))
			if c.removed && w.onRemove != nil {
				w.onRemove(c.path)
			}
		}
		clear(batch)
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()

			return
		case <-w.done:
			flush()

			return
		case c := <-w.changes:
			batch[c.path] = c
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}
