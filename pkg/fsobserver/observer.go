// Package fsobserver implements the Filesystem Observer: a directory watch
// that reports modified/created/deleted/renamed files matching a set of
// extensions, with a pause/resume bracket data stores use to suppress
// self-triggered events while they write a file back themselves.
package fsobserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/freedm/core/pkg/log"
)

// EventKind distinguishes the four file events callers can subscribe to.
type EventKind int

const (
	Modified EventKind = iota
	Created
	Deleted
	Moved
)

// Event describes one observed filesystem change.
type Event struct {
	Kind EventKind
	Path string
	// From is populated for Moved events with the file's previous path,
	// when fsnotify was able to correlate the rename.
	From string
}

// Handler receives observer events.
type Handler func(Event)

// Observer watches a directory for changes to files matching a set of
// extensions, optionally recursing into subdirectories.
type Observer struct {
	path       string
	extensions []string
	recursive  bool
	handler    Handler

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	paused       atomic.Bool
	settleDelay  time.Duration
	lastRenameOp struct {
		mu   sync.Mutex
		from string
	}
}

// New constructs an Observer for path. extensions is a list of file
// suffixes (with or without a leading dot) to exclusively observe; an
// empty list observes every file. settleDelay controls how long Resume
// waits before the observer starts delivering events again, giving a
// writer's own file operations time to finish landing on disk.
func New(path string, extensions []string, recursive bool, settleDelay time.Duration, handler Handler) *Observer {
	normalized := make([]string, 0, len(extensions))
	for _, e := range extensions {
		normalized = append(normalized, strings.TrimPrefix(e, "."))
	}
	if settleDelay <= 0 {
		settleDelay = time.Second
	}
	return &Observer{
		path:        path,
		extensions:  normalized,
		recursive:   recursive,
		handler:     handler,
		settleDelay: settleDelay,
	}
}

// Start begins watching. Calling Start twice without an intervening Stop
// is a no-op.
func (o *Observer) Start() error {
	if o.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := []string{o.path}
	if o.recursive {
		dirs, err = collectSubdirs(o.path)
		if err != nil {
			w.Close()
			return err
		}
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.watcher = w
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.loop(ctx)
	return nil
}

// Stop ends watching and releases the underlying inotify/kqueue handle.
func (o *Observer) Stop() error {
	if o.watcher == nil {
		return nil
	}
	o.cancel()
	err := o.watcher.Close()
	<-o.done
	o.watcher = nil
	return err
}

// Pause suppresses event delivery without tearing down the underlying
// watch, so a caller about to rewrite a watched file itself does not
// observe its own write.
func (o *Observer) Pause() { o.paused.Store(true) }

// Resume re-enables event delivery after waiting settleDelay, discarding
// any events that queued up while paused.
func (o *Observer) Resume() {
	time.Sleep(o.settleDelay)
	o.drain()
	o.paused.Store(false)
}

// WithPause runs fn with the observer paused, then resumes it.
func (o *Observer) WithPause(fn func()) {
	o.Pause()
	defer o.Resume()
	fn()
}

func (o *Observer) drain() {
	for {
		select {
		case <-o.watcher.Events:
		default:
			return
		}
	}
}

func (o *Observer) loop(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			o.dispatch(ev)
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			log.WithComponent("fsobserver").Warn().Err(err).Str("path", o.path).Msg("watch error")
		}
	}
}

func (o *Observer) dispatch(ev fsnotify.Event) {
	if o.paused.Load() {
		return
	}
	if !o.matches(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Write):
		o.emit(Event{Kind: Modified, Path: ev.Name})
	case ev.Has(fsnotify.Create):
		// If a Rename just departed a watched path, fsnotify reports the
		// arrival at the new path as a separate Create event. Correlate
		// the two into one Moved event instead of a bare Created.
		o.lastRenameOp.mu.Lock()
		from := o.lastRenameOp.from
		o.lastRenameOp.from = ""
		o.lastRenameOp.mu.Unlock()
		if from != "" {
			o.emit(Event{Kind: Moved, Path: ev.Name, From: from})
		} else {
			o.emit(Event{Kind: Created, Path: ev.Name})
		}
	case ev.Has(fsnotify.Remove):
		o.emit(Event{Kind: Deleted, Path: ev.Name})
	case ev.Has(fsnotify.Rename):
		// fsnotify reports a rename as a departure from the old path; the
		// corresponding Create at the new path arrives as a separate
		// event, so we remember the old path and merge them into one
		// Moved event if the create follows immediately. Both the old and
		// new paths are still processed: the old path as a Deleted event
		// here, the new path as part of the Moved event above.
		o.lastRenameOp.mu.Lock()
		o.lastRenameOp.from = ev.Name
		o.lastRenameOp.mu.Unlock()
		o.emit(Event{Kind: Deleted, Path: ev.Name})
	}
}

func (o *Observer) emit(ev Event) {
	if o.handler != nil {
		o.handler(ev)
	}
}

func (o *Observer) matches(path string) bool {
	if len(o.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, e := range o.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func collectSubdirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}
