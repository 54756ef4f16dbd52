package engine

import (
	"context"

	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// handlePendingChanged implements the claim protocol of spec root §4.1:
// observe at least one pending entry, confirm this session is active, then
// race to commit executionAssigned for the highest-priority one. A lost
// race is silently ignored — the pending subscription will fire again if
// work remains, and no additional tiebreak beyond first-commit-wins is
// implemented (§9 decision 1).
func (e *Engine) handlePendingChanged(rows []types.ExecutionQueueEntry) {
	if len(rows) == 0 {
		return
	}

	ctx := context.Background()
	active, err := store.QueryTyped[types.RuntimeSession](ctx, e.st, store.Selector{
		NotebookID: e.notebookID,
		Table:      store.TableSessions,
		Where:      store.WhereSessions(func(s types.RuntimeSession) bool { return s.IsActive }),
	})
	if err != nil {
		logging.Debug().Err(err).Msg("engine: active-sessions query failed, skipping claim attempt")
		return
	}

	present := false
	for _, s := range active {
		if s.SessionID == e.sessionID {
			present = true
			break
		}
	}
	if !present {
		return
	}

	entry := rows[0]
	err = e.st.Commit(ctx, e.notebookID, types.Event{
		Type: types.EventExecutionAssigned,
		Data: &types.ExecutionAssignedData{QueueID: entry.ID, SessionID: e.sessionID},
	})
	if err != nil {
		logging.Debug().Err(err).Str("queueId", entry.ID).Msg("engine: lost claim race or commit failed")
	}
}
