package reservfile

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies the caller that one of the three configuration files
// in a directory changed on disk, so a reload can be triggered without
// waiting for SIGHUP or a mgmt `reload` command (spec.md §4.9's fsnotify
// enrichment: additive to, never a replacement for, the spec-mandated
// reload triggers).
type Watcher struct {
	fsw *fsnotify.Watcher

	// Changed fires, non-blockingly, whenever one of the watched files is
	// written or renamed into place.
	Changed chan struct{}
}

// NewWatcher starts watching dir for changes to ids.json, config.json, and
// reservations.json.
func NewWatcher(dir string) (w *Watcher, err error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	if err = fsw.Add(dir); err != nil {
		_ = fsw.Close()

		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w = &Watcher{
		fsw:     fsw,
		Changed: make(chan struct{}, 1),
	}

	go w.run()

	return w, nil
}

// run drains the underlying fsnotify event and error channels until
// [Watcher.Close] is called, forwarding a non-blocking signal on Changed
// for every write/create/rename of a file this package cares about.
func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if !isRelevant(ev) {
				continue
			}

			select {
			case w.Changed <- struct{}{}:
			default:
				// A reload is already pending; coalesce.
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func isRelevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}

	switch filepath.Base(ev.Name) {
	case IdsFile, ConfigFile, ReservationsFile:
		return true
	default:
		return false
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
