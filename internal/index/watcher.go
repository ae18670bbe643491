package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Shizuku-Yume/Arcaferry/internal/checksum"
	"github.com/Shizuku-Yume/Arcaferry/internal/models"
	"github.com/Shizuku-Yume/Arcaferry/internal/storage"
)

// debounceWindow coalesces the create/write/chmod bursts editors emit when
// saving a file, and pairs rename-out with rename-in events.
const debounceWindow = 200 * time.Millisecond

// Watcher keeps the index in step with live changes to the library
// directory tree.
type Watcher struct {
	db     CardIndex
	store  storage.Provider
	root   string
	logger *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	timer   *time.Timer

	// OnChange, when set, is called after each processed batch with the
	// relative paths that were re-indexed or removed.
	OnChange func(paths []string)
}

// NewWatcher creates a watcher over the library root. Subdirectories are
// watched recursively; new directories are picked up as they appear.
func NewWatcher(db CardIndex, store storage.Provider, root string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		db:      db,
		store:   store,
		root:    root,
		logger:  logger,
		fsw:     fsw,
		pending: make(map[string]fsnotify.Op),
	}
	if err := w.watchTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	})
}

// Run processes file system events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// New directories must be added to the watch set immediately or
	// events inside them are lost.
	if event.Op.Has(fsnotify.Create) {
		if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
			if err := w.watchTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".png") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[event.Name] |= event.Op
	if w.timer == nil {
		w.timer = time.AfterFunc(debounceWindow, w.flush)
	} else {
		w.timer.Reset(debounceWindow)
	}
}

// flush drains the pending event set after the debounce window closes.
// A rename away and back within the window resolves to a re-index rather
// than a remove.
func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.timer = nil
	w.mu.Unlock()

	var changed []string
	for abs, op := range batch {
		rel, err := filepath.Rel(w.root, abs)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		switch {
		case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
			if _, err := os.Stat(abs); err == nil {
				if err := w.reindex(rel, abs); err != nil {
					w.logger.Warn("failed to re-index after rename", "path", rel, "error", err)
					continue
				}
			} else if err := RemoveFile(w.db, rel); err != nil {
				w.logger.Warn("failed to drop index row", "path", rel, "error", err)
				continue
			}
			changed = append(changed, rel)
		case op.Has(fsnotify.Create) || op.Has(fsnotify.Write):
			if err := w.reindex(rel, abs); err != nil {
				w.logger.Warn("failed to index changed file", "path", rel, "error", err)
				continue
			}
			changed = append(changed, rel)
		}
	}

	if len(changed) > 0 && w.OnChange != nil {
		w.OnChange(changed)
	}
}

func (w *Watcher) reindex(rel, abs string) error {
	data, err := w.store.Read(rel)
	if err != nil {
		return err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return err
	}
	return IndexFile(w.db, w.store, models.CardMetadata{
		Path:      rel,
		Checksum:  checksum.Sum(data),
		UpdatedAt: st.ModTime(),
	})
}
