package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cellrt/runtime-agent/internal/execctx"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

func setupNotebook(t *testing.T, st store.Store, sessionID string) {
	t.Helper()
	mustCommit(t, st, types.Event{
		Type: types.EventRuntimeSessionStarted,
		Data: &types.RuntimeSessionStartedData{Session: &types.RuntimeSession{SessionID: sessionID, NotebookID: "nb-1", IsActive: true, Status: types.SessionReady}},
	})
}

func mustCommit(t *testing.T, st store.Store, event types.Event) {
	t.Helper()
	if err := st.Commit(context.Background(), "nb-1", event); err != nil {
		t.Fatalf("Commit(%s) failed: %v", event.Type, err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func queueEntry(t *testing.T, st store.Store, id string) types.ExecutionQueueEntry {
	t.Helper()
	rows, err := store.QueryTyped[types.ExecutionQueueEntry](context.Background(), st, store.Selector{
		NotebookID: "nb-1",
		Table:      store.TableQueue,
		Where:      store.WhereQueue(func(e types.ExecutionQueueEntry) bool { return e.ID == id }),
	})
	if err != nil || len(rows) == 0 {
		t.Fatalf("queue entry %s not found: %v", id, err)
	}
	return rows[0]
}

func TestEngineClaimsAndDispatchesPendingEntry(t *testing.T) {
	st := store.NewFSStore(t.TempDir())
	defer st.Close()
	setupNotebook(t, st, "sess-1")

	mustCommit(t, st, types.Event{Type: types.EventCellCreated, Data: &types.CellCreatedData{Cell: &types.Cell{ID: "cell-1", NotebookID: "nb-1", CellType: types.CellCode, Source: "1+1"}}})

	var invoked sync.WaitGroup
	invoked.Add(1)
	handlers := map[types.CellType]Handler{
		types.CellCode: func(ctx context.Context, execCtx *execctx.Context, cell types.Cell) (map[string]any, error) {
			defer invoked.Done()
			return map[string]any{"text/plain": "2"}, nil
		},
	}

	eng := New(st, "nb-1", "sess-1", handlers, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	mustCommit(t, st, types.Event{Type: types.EventExecutionRequested, Data: &types.ExecutionRequestedData{
		Queue: &types.ExecutionQueueEntry{ID: "q-1", NotebookID: "nb-1", CellID: "cell-1", Status: types.QueuePending, RequestedBy: "user-1"},
	}})

	waitFor(t, time.Second, func() bool {
		return queueEntry(t, st, "q-1").Status == types.QueueCompleted
	})

	entry := queueEntry(t, st, "q-1")
	if entry.Error != "" {
		t.Fatalf("expected no error, got %q", entry.Error)
	}
}

func TestEngineMarksMissingCellFailed(t *testing.T) {
	st := store.NewFSStore(t.TempDir())
	defer st.Close()
	setupNotebook(t, st, "sess-1")

	eng := New(st, "nb-1", "sess-1", map[types.CellType]Handler{}, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	mustCommit(t, st, types.Event{Type: types.EventExecutionRequested, Data: &types.ExecutionRequestedData{
		Queue: &types.ExecutionQueueEntry{ID: "q-missing", NotebookID: "nb-1", CellID: "no-such-cell", Status: types.QueuePending},
	}})

	waitFor(t, time.Second, func() bool {
		return queueEntry(t, st, "q-missing").Status == types.QueueFailed
	})

	entry := queueEntry(t, st, "q-missing")
	if entry.Error != "Cell no-such-cell not found" {
		t.Fatalf("expected not-found error text, got %q", entry.Error)
	}
}

func TestEngineDoesNotClaimWithoutActiveSession(t *testing.T) {
	st := store.NewFSStore(t.TempDir())
	defer st.Close()
	// Deliberately skip setupNotebook: no active session registered.

	eng := New(st, "nb-1", "sess-1", map[types.CellType]Handler{}, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	mustCommit(t, st, types.Event{Type: types.EventExecutionRequested, Data: &types.ExecutionRequestedData{
		Queue: &types.ExecutionQueueEntry{ID: "q-1", NotebookID: "nb-1", CellID: "cell-1", Status: types.QueuePending},
	}})

	time.Sleep(50 * time.Millisecond)
	if queueEntry(t, st, "q-1").Status != types.QueuePending {
		t.Fatalf("expected entry to remain unclaimed without an active session")
	}
}

func TestEngineCancellationSuppressesCompletionError(t *testing.T) {
	st := store.NewFSStore(t.TempDir())
	defer st.Close()
	setupNotebook(t, st, "sess-1")

	mustCommit(t, st, types.Event{Type: types.EventCellCreated, Data: &types.CellCreatedData{Cell: &types.Cell{ID: "cell-1", NotebookID: "nb-1", CellType: types.CellCode}}})

	handlerStarted := make(chan struct{})
	handlers := map[types.CellType]Handler{
		types.CellCode: func(ctx context.Context, execCtx *execctx.Context, cell types.Cell) (map[string]any, error) {
			close(handlerStarted)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	eng := New(st, "nb-1", "sess-1", handlers, nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	mustCommit(t, st, types.Event{Type: types.EventExecutionRequested, Data: &types.ExecutionRequestedData{
		Queue: &types.ExecutionQueueEntry{ID: "q-1", NotebookID: "nb-1", CellID: "cell-1", Status: types.QueuePending},
	}})

	select {
	case <-handlerStarted:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	mustCommit(t, st, types.Event{Type: types.EventExecutionCancelled, Data: &types.ExecutionCancelledData{QueueID: "q-1"}})

	time.Sleep(100 * time.Millisecond)
	entry := queueEntry(t, st, "q-1")
	if entry.Status != types.QueueCancelled {
		t.Fatalf("expected status to remain cancelled, got %s", entry.Status)
	}
}
