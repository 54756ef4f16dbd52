package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cellrt/runtime-agent/internal/execctx"
	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// handleAssignedChanged implements local duplicate suppression: each
// entry not already being processed is added to the suppression set and
// dispatched on its own goroutine, serializing only that queue id's
// handler invocations against themselves.
func (e *Engine) handleAssignedChanged(rows []types.ExecutionQueueEntry) {
	for _, entry := range rows {
		e.mu.Lock()
		if _, already := e.processing[entry.ID]; already {
			e.mu.Unlock()
			continue
		}
		dispatchCtx, cancel := context.WithCancel(e.baseCtx)
		e.processing[entry.ID] = cancel
		e.mu.Unlock()

		e.wg.Add(1)
		go e.dispatch(dispatchCtx, entry)
	}
}

// handleCancelled aborts the in-flight dispatch's cancellation handle for
// a cancelled entry. It does not itself commit anything — the store
// already reflects status=cancelled.
func (e *Engine) handleCancelled(rows []types.ExecutionQueueEntry) {
	for _, entry := range rows {
		e.mu.Lock()
		cancel, ok := e.processing[entry.ID]
		e.mu.Unlock()
		if ok {
			cancel()
		}
	}
}

// handleTerminal removes completed/failed entries from the suppression
// set. Ordinarily dispatch already does this when it returns; this covers
// the entry reaching a terminal state some other way.
func (e *Engine) handleTerminal(rows []types.ExecutionQueueEntry) {
	for _, entry := range rows {
		e.forget(entry.ID)
	}
}

func (e *Engine) forget(queueID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.processing[queueID]; ok {
		cancel()
		delete(e.processing, queueID)
	}
}

func (e *Engine) dispatch(ctx context.Context, entry types.ExecutionQueueEntry) {
	defer e.wg.Done()
	defer e.forget(entry.ID)

	cell, err := e.queryCell(ctx, entry.CellID)
	if err != nil {
		e.commitCompleted(ctx, entry.ID, entry.CellID, false, fmt.Sprintf("Cell %s not found", entry.CellID), time.Now().UnixMilli(), 0)
		return
	}

	execCtx := execctx.New(ctx, e.st, e.notebookID, entry.ID, entry.CellID, entry.ExecutionCount)
	startedAt := time.Now()

	if err := e.st.Commit(ctx, e.notebookID, types.Event{
		Type: types.EventExecutionStarted,
		Data: &types.ExecutionStartedData{QueueID: entry.ID, CellID: entry.CellID, SessionID: e.sessionID, StartedAt: startedAt.UnixMilli()},
	}); err != nil {
		logging.Debug().Err(err).Str("queueId", entry.ID).Msg("engine: executionStarted commit failed")
	}

	if err := execCtx.Clear(false); err != nil {
		logging.Debug().Err(err).Str("queueId", entry.ID).Msg("engine: initial cellOutputsCleared commit failed")
	}

	handler, ok := e.handlers[cell.CellType]
	if !ok {
		err := fmt.Errorf("no handler registered for cell type %q", cell.CellType)
		e.finishError(ctx, entry, execCtx, err, startedAt)
		return
	}

	result, err := e.invoke(ctx, handler, execCtx, cell)

	if ctx.Err() != nil {
		// Cancelled mid-dispatch: no completion-error commit, per §4.1.
		return
	}

	if err != nil {
		e.finishError(ctx, entry, execCtx, err, startedAt)
		return
	}

	if result != nil {
		if err := execCtx.Result(result, nil); err != nil {
			logging.Debug().Err(err).Str("queueId", entry.ID).Msg("engine: result commit failed")
		}
	}

	e.commitCompleted(ctx, entry.ID, entry.CellID, true, "", time.Now().UnixMilli(), time.Since(startedAt).Milliseconds())
}

func (e *Engine) invoke(ctx context.Context, handler Handler, execCtx *execctx.Context, cell types.Cell) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, execCtx, cell)
}

func (e *Engine) finishError(ctx context.Context, entry types.ExecutionQueueEntry, execCtx *execctx.Context, err error, startedAt time.Time) {
	if e.onError != nil {
		e.onError(err, execCtx)
	}
	e.commitCompleted(ctx, entry.ID, entry.CellID, false, err.Error(), time.Now().UnixMilli(), time.Since(startedAt).Milliseconds())
}

func (e *Engine) commitCompleted(ctx context.Context, queueID, cellID string, success bool, errMsg string, completedAt, durationMs int64) {
	if err := e.st.Commit(ctx, e.notebookID, types.Event{
		Type: types.EventExecutionCompleted,
		Data: &types.ExecutionCompletedData{
			QueueID:     queueID,
			CellID:      cellID,
			Success:     success,
			Error:       errMsg,
			CompletedAt: completedAt,
			DurationMs:  durationMs,
		},
	}); err != nil {
		logging.Debug().Err(err).Str("queueId", queueID).Msg("engine: executionCompleted commit failed")
	}
}

func (e *Engine) queryCell(ctx context.Context, cellID string) (types.Cell, error) {
	rows, err := store.QueryTyped[types.Cell](ctx, e.st, store.Selector{
		NotebookID: e.notebookID,
		Table:      store.TableCells,
		Where:      store.WhereCells(func(c types.Cell) bool { return c.ID == cellID }),
	})
	if err != nil {
		return types.Cell{}, err
	}
	if len(rows) == 0 {
		return types.Cell{}, store.ErrNotFound
	}
	return rows[0], nil
}
