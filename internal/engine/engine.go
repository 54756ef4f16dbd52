// Package engine implements the coordination engine (spec root §4.1): it
// claims pending execution requests assigned to this session, dispatches
// them to the handler registered for the cell's kind, and cooperates with
// peer sessions so each pending entry is claimed by exactly one of them.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/cellrt/runtime-agent/internal/execctx"
	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// Handler executes one cell's source and reports a final result payload
// (mapping MIME type to value, as execctx.Result expects) or an error.
type Handler func(ctx context.Context, execCtx *execctx.Context, cell types.Cell) (result map[string]any, err error)

// ErrorHook is invoked for a handler failure before executionCompleted is
// committed, matching spec root §4.1's optional onExecutionError hook.
type ErrorHook func(err error, execCtx *execctx.Context)

// Engine is one coordination engine instance, scoped to a single
// RuntimeSession attached to one notebook.
type Engine struct {
	st         store.Store
	notebookID string
	sessionID  string
	handlers   map[types.CellType]Handler
	onError    ErrorHook

	baseCtx context.Context

	mu         sync.Mutex
	processing map[string]context.CancelFunc

	unsubscribes []func()
	wg           sync.WaitGroup
}

// New constructs an Engine. handlers maps a cell kind to the Handler that
// executes it; a cell kind with no registered handler fails its execution
// with a descriptive error rather than panicking.
func New(st store.Store, notebookID, sessionID string, handlers map[types.CellType]Handler, onError ErrorHook) *Engine {
	return &Engine{
		st:         st,
		notebookID: notebookID,
		sessionID:  sessionID,
		handlers:   handlers,
		onError:    onError,
		processing: make(map[string]context.CancelFunc),
	}
}

// Start installs the five subscriptions of spec root §4.1 and begins
// claiming and dispatching work. ctx governs every dispatched execution's
// base cancellation; Stop (or ctx's own cancellation) tears them down.
func (e *Engine) Start(ctx context.Context) error {
	e.baseCtx = ctx

	subs := []struct {
		sel Selector
		fn  func([]types.ExecutionQueueEntry)
	}{
		{pendingSelector(e.notebookID), e.handlePendingChanged},
		{assignedToMeSelector(e.notebookID, e.sessionID), e.handleAssignedChanged},
		{cancelledSelector(e.notebookID), e.handleCancelled},
		{completedSelector(e.notebookID), e.handleTerminal},
		{failedSelector(e.notebookID), e.handleTerminal},
	}

	for _, sub := range subs {
		unsubscribe, err := store.SubscribeTyped[types.ExecutionQueueEntry](ctx, e.st, store.Selector(sub.sel), sub.fn, func(err error) {
			logging.Debug().Err(err).Msg("engine: subscription delivered an unexpected row type")
		})
		if err != nil {
			e.Stop()
			return fmt.Errorf("engine: subscribe: %w", err)
		}
		e.unsubscribes = append(e.unsubscribes, unsubscribe)
	}

	return nil
}

// Stop drops all subscriptions and waits for in-flight dispatches to
// observe cancellation and return. It does not itself cancel baseCtx —
// callers that want dispatches to abort on Stop should cancel ctx first.
func (e *Engine) Stop() {
	for _, unsubscribe := range e.unsubscribes {
		unsubscribe()
	}
	e.unsubscribes = nil
	e.wg.Wait()
}

// Selector is a notebook-scoped, type-narrowed alias of store.Selector
// used by the engine's five fixed subscriptions.
type Selector store.Selector

func pendingSelector(notebookID string) Selector {
	return Selector{
		NotebookID: notebookID,
		Table:      store.TableQueue,
		Where:      store.WhereQueue(func(e types.ExecutionQueueEntry) bool { return e.Status == types.QueuePending }),
		OrderBy:    store.OrderQueueByPriority,
	}
}

func assignedToMeSelector(notebookID, sessionID string) Selector {
	return Selector{
		NotebookID: notebookID,
		Table:      store.TableQueue,
		Where: store.WhereQueue(func(e types.ExecutionQueueEntry) bool {
			return e.Status == types.QueueAssigned && e.AssignedRuntimeSession != nil && *e.AssignedRuntimeSession == sessionID
		}),
		OrderBy: store.OrderQueueByPriority,
	}
}

func cancelledSelector(notebookID string) Selector {
	return Selector{
		NotebookID: notebookID,
		Table:      store.TableQueue,
		Where:      store.WhereQueue(func(e types.ExecutionQueueEntry) bool { return e.Status == types.QueueCancelled }),
	}
}

func completedSelector(notebookID string) Selector {
	return Selector{
		NotebookID: notebookID,
		Table:      store.TableQueue,
		Where:      store.WhereQueue(func(e types.ExecutionQueueEntry) bool { return e.Status == types.QueueCompleted }),
	}
}

func failedSelector(notebookID string) Selector {
	return Selector{
		NotebookID: notebookID,
		Table:      store.TableQueue,
		Where:      store.WhereQueue(func(e types.ExecutionQueueEntry) bool { return e.Status == types.QueueFailed }),
	}
}
