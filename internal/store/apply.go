package store

import (
	"fmt"
	"time"

	"github.com/cellrt/runtime-agent/pkg/types"
)

// apply projects event onto the corresponding table row(s) for notebookID
// and returns which table changed, so Commit knows what to notify. An
// empty return means the event carries no durable table projection (its
// effect is purely a signal other components consume directly from the
// committed event, not a queryable row).
func (s *FSStore) apply(notebookID string, event types.Event) (Table, error) {
	switch event.Type {
	case types.EventRuntimeSessionStarted:
		data, ok := event.Data.(*types.RuntimeSessionStartedData)
		if !ok || data.Session == nil {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		if err := s.writeRow(TableSessions, notebookID, data.Session.SessionID, data.Session); err != nil {
			return "", err
		}
		return TableSessions, nil

	case types.EventRuntimeSessionStatusChanged:
		data, ok := event.Data.(*types.RuntimeSessionStatusChangedData)
		if !ok {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		session, err := s.loadSession(notebookID, data.SessionID)
		if err != nil {
			return "", err
		}
		session.Status = data.Status
		session.LastHeartbeat = time.Now().UnixMilli()
		if err := s.writeRow(TableSessions, notebookID, session.SessionID, session); err != nil {
			return "", err
		}
		return TableSessions, nil

	case types.EventRuntimeSessionTerminated:
		data, ok := event.Data.(*types.RuntimeSessionTerminatedData)
		if !ok {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		session, err := s.loadSession(notebookID, data.SessionID)
		if err != nil {
			return "", err
		}
		session.Status = types.SessionTerminated
		session.IsActive = false
		if err := s.writeRow(TableSessions, notebookID, session.SessionID, session); err != nil {
			return "", err
		}
		return TableSessions, nil

	case types.EventExecutionRequested:
		data, ok := event.Data.(*types.ExecutionRequestedData)
		if !ok || data.Queue == nil {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		if err := s.writeRow(TableQueue, notebookID, data.Queue.ID, data.Queue); err != nil {
			return "", err
		}
		return TableQueue, nil

	case types.EventExecutionAssigned:
		data, ok := event.Data.(*types.ExecutionAssignedData)
		if !ok {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		entry, err := s.loadQueueEntry(notebookID, data.QueueID)
		if err != nil {
			return "", err
		}
		if entry.Status != types.QueuePending {
			return "", fmt.Errorf("store: %s: queue entry %s is not pending (status=%s)", event.Type, entry.ID, entry.Status)
		}
		sessionID := data.SessionID
		entry.Status = types.QueueAssigned
		entry.AssignedRuntimeSession = &sessionID
		if err := s.writeRow(TableQueue, notebookID, entry.ID, entry); err != nil {
			return "", err
		}
		return TableQueue, nil

	case types.EventExecutionStarted:
		data, ok := event.Data.(*types.ExecutionStartedData)
		if !ok {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		entry, err := s.loadQueueEntry(notebookID, data.QueueID)
		if err != nil {
			return "", err
		}
		entry.Status = types.QueueExecuting
		startedAt := data.StartedAt
		entry.StartedAt = &startedAt
		if err := s.writeRow(TableQueue, notebookID, entry.ID, entry); err != nil {
			return "", err
		}
		return TableQueue, nil

	case types.EventExecutionCompleted:
		data, ok := event.Data.(*types.ExecutionCompletedData)
		if !ok {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		entry, err := s.loadQueueEntry(notebookID, data.QueueID)
		if err != nil {
			return "", err
		}
		if data.Success {
			entry.Status = types.QueueCompleted
		} else {
			entry.Status = types.QueueFailed
		}
		completedAt := data.CompletedAt
		entry.CompletedAt = &completedAt
		durationMs := data.DurationMs
		entry.ExecutionDurationMs = &durationMs
		entry.Error = data.Error
		if err := s.writeRow(TableQueue, notebookID, entry.ID, entry); err != nil {
			return "", err
		}
		return TableQueue, nil

	case types.EventExecutionCancelled:
		data, ok := event.Data.(*types.ExecutionCancelledData)
		if !ok {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		entry, err := s.loadQueueEntry(notebookID, data.QueueID)
		if err != nil {
			return "", err
		}
		entry.Status = types.QueueCancelled
		if err := s.writeRow(TableQueue, notebookID, entry.ID, entry); err != nil {
			return "", err
		}
		return TableQueue, nil

	case types.EventCellCreated:
		data, ok := event.Data.(*types.CellCreatedData)
		if !ok || data.Cell == nil {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		if err := s.writeRow(TableCells, notebookID, data.Cell.ID, data.Cell); err != nil {
			return "", err
		}
		return TableCells, nil

	case types.EventCellSourceChanged:
		data, ok := event.Data.(*types.CellSourceChangedData)
		if !ok {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		row, err := s.readRow(TableCells, notebookID, data.CellID)
		if err != nil {
			return "", err
		}
		cell := row.(types.Cell)
		cell.Source = data.Source
		if err := s.writeRow(TableCells, notebookID, cell.ID, cell); err != nil {
			return "", err
		}
		return TableCells, nil

	case types.EventCellOutputsCleared:
		data, ok := event.Data.(*types.CellOutputsClearedData)
		if !ok {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		// Whether the clear was immediate (Wait=false) or flushed out of a
		// deferred one right before the replacement output lands (Wait=true,
		// see execctx.Context.nextPositionLocked), the prior execution's
		// Output rows for this cell must not survive to be returned by a
		// future loadOutputs/Query(TableOutputs) alongside the next
		// execution's — their Position counters both restart at 0.
		if err := s.deleteOutputsForCell(notebookID, data.CellID); err != nil {
			return "", err
		}
		return TableOutputs, nil

	case types.EventOutputEmitted:
		data, ok := event.Data.(*types.OutputEmittedData)
		if !ok || data.Output == nil {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		if err := s.writeRow(TableOutputs, notebookID, data.Output.ID, data.Output); err != nil {
			return "", err
		}
		return TableOutputs, nil

	case types.EventOutputUpdated:
		data, ok := event.Data.(*types.OutputUpdatedData)
		if !ok || data.Output == nil {
			return "", fmt.Errorf("store: %s: malformed payload", event.Type)
		}
		if err := s.writeRow(TableOutputs, notebookID, data.Output.ID, data.Output); err != nil {
			return "", err
		}
		return TableOutputs, nil

	default:
		return "", fmt.Errorf("store: unrecognized event type %q", event.Type)
	}
}

func (s *FSStore) loadSession(notebookID, sessionID string) (types.RuntimeSession, error) {
	row, err := s.readRow(TableSessions, notebookID, sessionID)
	if err != nil {
		return types.RuntimeSession{}, err
	}
	return row.(types.RuntimeSession), nil
}

func (s *FSStore) loadQueueEntry(notebookID, queueID string) (types.ExecutionQueueEntry, error) {
	row, err := s.readRow(TableQueue, notebookID, queueID)
	if err != nil {
		return types.ExecutionQueueEntry{}, err
	}
	return row.(types.ExecutionQueueEntry), nil
}
