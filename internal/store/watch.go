package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cellrt/runtime-agent/internal/logging"
)

// externalWatcher watches the store's base directory with fsnotify so that
// a table row written directly to disk by an external process (a demo or
// offline-mode seeding script, rather than through Commit) still reaches
// subscribers. Commit's own notifications do not depend on this watcher —
// it only covers writes that bypass Commit entirely.
type externalWatcher struct {
	store *FSStore

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	watching map[string]bool
	cancel   context.CancelFunc
}

func newExternalWatcher(s *FSStore) *externalWatcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Debug().Err(err).Msg("store: fsnotify unavailable, external writers will not be observed")
		return &externalWatcher{store: s}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &externalWatcher{
		store:    s,
		fsw:      fsw,
		watching: make(map[string]bool),
		cancel:   cancel,
	}
	go w.run(ctx)
	return w
}

// watchTable arranges for table changes under notebookID to be picked up
// even when written externally. Safe to call repeatedly; each directory is
// added to the watch set at most once.
func (w *externalWatcher) watchTable(notebookID string, table Table) {
	if w.fsw == nil {
		return
	}

	dir := w.store.tableDir(notebookID, table)
	if table == TableNotebooks {
		dir = w.store.notebookDir(notebookID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		logging.Debug().Err(err).Str("dir", dir).Msg("store: failed to watch directory")
		return
	}
	w.watching[dir] = true
}

func (w *externalWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Debug().Err(err).Msg("store: fsnotify error")
		}
	}
}

func (w *externalWatcher) handle(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".json") {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	dir := filepath.Dir(ev.Name)
	notebookID, table, ok := w.classify(dir)
	if !ok {
		return
	}

	w.store.bus.notify(notebookID, table, func(sel Selector) ([]any, error) {
		return w.store.Query(context.Background(), sel)
	})
}

// classify maps a watched directory back to the (notebookID, table) it
// serves. notebookID is always the directory directly under basePath.
func (w *externalWatcher) classify(dir string) (string, Table, bool) {
	rel, err := filepath.Rel(w.store.basePath, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) == 1 {
		return parts[0], TableNotebooks, true
	}
	return parts[0], Table(parts[1]), true
}

func (w *externalWatcher) stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.fsw != nil {
		w.fsw.Close()
	}
}
