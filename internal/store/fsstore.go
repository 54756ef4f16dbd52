package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// FSStore is the reference Store: one JSON file per record, written with
// the atomic write-to-temp-then-rename pattern and a flock-backed lock per
// file, generalized from storage.Storage's path-slice-keyed layout to a
// notebookID/table/id hierarchy. A fsnotify watcher additionally picks up
// records written by an external process (e.g. a demo seeding script)
// without going through Commit.
type FSStore struct {
	basePath string

	mu    sync.RWMutex
	locks map[string]*fileLock

	bus     *changeBus
	watcher *externalWatcher
}

// NewFSStore creates a reference Store rooted at basePath. Each notebook
// gets its own subdirectory, created on first Commit/Query.
func NewFSStore(basePath string) *FSStore {
	s := &FSStore{
		basePath: basePath,
		locks:    make(map[string]*fileLock),
		bus:      newChangeBus(),
	}
	s.watcher = newExternalWatcher(s)
	return s
}

func (s *FSStore) notebookDir(notebookID string) string {
	return filepath.Join(s.basePath, notebookID)
}

func (s *FSStore) tableDir(notebookID string, table Table) string {
	return filepath.Join(s.notebookDir(notebookID), string(table))
}

func (s *FSStore) rowPath(notebookID string, table Table, id string) string {
	if table == TableNotebooks {
		return filepath.Join(s.notebookDir(notebookID), "notebook.json")
	}
	return filepath.Join(s.tableDir(notebookID, table), id+".json")
}

func (s *FSStore) getLock(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[path]
	if !ok {
		l = newFileLock(path)
		s.locks[path] = l
	}
	return l
}

func (s *FSStore) writeRow(table Table, notebookID, id string, v any) error {
	path := s.rowPath(notebookID, table, id)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("store: create directory: %w", err)
	}

	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

func (s *FSStore) deleteRow(table Table, notebookID, id string) error {
	path := s.rowPath(notebookID, table, id)

	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove: %w", err)
	}
	return nil
}

// deleteOutputsForCell removes every TableOutputs row belonging to cellID,
// so a cleared cell's next execution starts from an empty, not merely
// hidden, output set.
func (s *FSStore) deleteOutputsForCell(notebookID, cellID string) error {
	rows, err := s.loadTable(notebookID, TableOutputs)
	if err != nil {
		return err
	}
	for _, row := range rows {
		output := row.(types.Output)
		if output.CellID != cellID {
			continue
		}
		if err := s.deleteRow(TableOutputs, notebookID, output.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSStore) readRow(table Table, notebookID, id string) (any, error) {
	path := s.rowPath(notebookID, table, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read: %w", err)
	}
	return decodeRow(table, data)
}

func decodeRow(table Table, data []byte) (any, error) {
	switch table {
	case TableNotebooks:
		var v types.Notebook
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TableCells:
		var v types.Cell
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TableQueue:
		var v types.ExecutionQueueEntry
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TableSessions:
		var v types.RuntimeSession
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TableOutputs:
		var v types.Output
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("store: unknown table %q", table)
	}
}

func (s *FSStore) loadTable(notebookID string, table Table) ([]any, error) {
	if table == TableNotebooks {
		row, err := s.readRow(table, notebookID, "")
		if err == ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []any{row}, nil
	}

	dir := s.tableDir(notebookID, table)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read directory: %w", err)
	}

	rows := make([]any, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		row, err := decodeRow(table, data)
		if err != nil {
			logging.Debug().Str("path", filepath.Join(dir, name)).Err(err).Msg("store: skipping unreadable row")
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Query implements Store.
func (s *FSStore) Query(ctx context.Context, sel Selector) ([]any, error) {
	rows, err := s.loadTable(sel.NotebookID, sel.Table)
	if err != nil {
		return nil, err
	}
	return filterAndOrder(rows, sel), nil
}

func filterAndOrder(rows []any, sel Selector) []any {
	out := rows
	if sel.Where != nil {
		out = make([]any, 0, len(rows))
		for _, r := range rows {
			if sel.Where(r) {
				out = append(out, r)
			}
		}
	} else {
		out = append([]any(nil), rows...)
	}

	if sel.OrderBy != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return sel.OrderBy(out[i], out[j])
		})
	}
	return out
}

// Subscribe implements Store. It delivers an initial snapshot synchronously
// before returning, then again on every Commit that touches sel.Table for
// sel.NotebookID.
func (s *FSStore) Subscribe(ctx context.Context, sel Selector, onUpdate UpdateFunc) (func(), error) {
	rows, err := s.Query(ctx, sel)
	if err != nil {
		return nil, err
	}
	onUpdate(rows)

	if err := os.MkdirAll(s.tableDirFor(sel), 0755); err == nil {
		s.watcher.watchTable(sel.NotebookID, sel.Table)
	}

	unsubscribe := s.bus.subscribe(sel, onUpdate)
	return unsubscribe, nil
}

func (s *FSStore) tableDirFor(sel Selector) string {
	if sel.Table == TableNotebooks {
		return s.notebookDir(sel.NotebookID)
	}
	return s.tableDir(sel.NotebookID, sel.Table)
}

// Commit implements Store: it applies event to the projected table(s) it
// touches and notifies subscribers of the affected (notebookID, table).
func (s *FSStore) Commit(ctx context.Context, notebookID string, event types.Event) error {
	table, err := s.apply(notebookID, event)
	if err != nil {
		return err
	}
	if table != "" {
		s.bus.notify(notebookID, table, func(sel Selector) ([]any, error) {
			return s.Query(ctx, sel)
		})
	}
	return nil
}

func (s *FSStore) Close() error {
	s.watcher.stop()
	return s.bus.close()
}

// EnsureNotebook writes notebook's record if one does not already exist.
// Notebook creation has no dedicated event type (spec root §3's Notebook
// addition assumes the notebook already exists by the time an agent
// attaches to it); this is a bootstrap convenience for running the agent
// against a fresh local notebook, not part of the Store interface.
func (s *FSStore) EnsureNotebook(notebook types.Notebook) error {
	if _, err := s.readRow(TableNotebooks, notebook.ID, ""); err == nil {
		return nil
	} else if err != ErrNotFound {
		return err
	}
	return s.writeRow(TableNotebooks, notebook.ID, "", notebook)
}
