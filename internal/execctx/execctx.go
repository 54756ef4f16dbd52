// Package execctx implements the execution context & output protocol
// (spec root §4.2): the sole conduit by which a cell handler (code worker
// bridge or AI driver) emits observable results back through the store.
package execctx

import (
	"context"
	"errors"
	"sync"

	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/idgen"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// ErrCancelled is returned by CheckCancellation once the context's abort
// signal has fired.
var ErrCancelled = errors.New("execctx: cancelled")

// Context is one execution's handle onto the output protocol. It is not
// safe to retain across executions: a new Context is constructed per
// queue entry dispatch.
type Context struct {
	st         store.Store
	notebookID string
	queueID    string
	cellID     string
	execCount  int

	abortCtx context.Context
	abort    context.CancelFunc

	mu           sync.Mutex
	position     int
	pendingClear bool
	displayIDs   map[string]string // displayId -> outputId, for updateDisplay routing
	live         map[string]*types.Output
}

// New constructs a Context for one dispatch of queueID/cellID. parent is
// the ambient cancellation context (process shutdown, coordination-engine
// level cancellation); TriggerAbort additionally cancels the handle when
// the engine observes an executionCancelled commit for this queue entry.
func New(parent context.Context, st store.Store, notebookID, queueID, cellID string, execCount int) *Context {
	abortCtx, cancel := context.WithCancel(parent)
	return &Context{
		st:         st,
		notebookID: notebookID,
		queueID:    queueID,
		cellID:     cellID,
		execCount:  execCount,
		abortCtx:   abortCtx,
		abort:      cancel,
		displayIDs: make(map[string]string),
		live:       make(map[string]*types.Output),
	}
}

// AbortSignal is the cancellation handle a handler must observe (spec root
// §4.2's abortSignal).
func (c *Context) AbortSignal() <-chan struct{} {
	return c.abortCtx.Done()
}

// TriggerAbort fires the abort signal. Idempotent.
func (c *Context) TriggerAbort() {
	c.abort()
}

// CheckCancellation raises ErrCancelled once the abort signal has fired.
func (c *Context) CheckCancellation() error {
	select {
	case <-c.abortCtx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

func (c *Context) commitOutput(o *types.Output) error {
	return c.st.Commit(context.Background(), c.notebookID, types.Event{
		Type: types.EventOutputEmitted,
		Data: &types.OutputEmittedData{Output: o},
	})
}

func (c *Context) commitOutputUpdate(o *types.Output) error {
	return c.st.Commit(context.Background(), c.notebookID, types.Event{
		Type: types.EventOutputUpdated,
		Data: &types.OutputUpdatedData{Output: o},
	})
}

// nextPositionLocked flushes a deferred clear (if one is pending) and returns the
// position the next new output record should carry. Callers must hold mu.
func (c *Context) nextPositionLocked() (int, error) {
	if c.pendingClear {
		if err := c.st.Commit(context.Background(), c.notebookID, types.Event{
			Type: types.EventCellOutputsCleared,
			Data: &types.CellOutputsClearedData{CellID: c.cellID, Wait: true},
		}); err != nil {
			return 0, err
		}
		c.pendingClear = false
		c.displayIDs = make(map[string]string)
		c.live = make(map[string]*types.Output)
	}

	pos := c.position
	c.position++
	return pos, nil
}

// Stdout appends a new terminal output on the stdout stream and returns
// its id, so a caller coalescing streamed chunks can route later text
// through AppendTerminal. Empty text is a no-op.
func (c *Context) Stdout(text string) (string, error) {
	return c.terminal("stdout", text)
}

// Stderr appends a new terminal output on the stderr stream.
func (c *Context) Stderr(text string) (string, error) {
	return c.terminal("stderr", text)
}

func (c *Context) terminal(stream, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.nextPositionLocked()
	if err != nil {
		return "", err
	}

	o := &types.Output{
		ID:         idgen.New(),
		CellID:     c.cellID,
		Position:   pos,
		OutputType: types.OutputTerminal,
		StreamName: stream,
		Text:       text,
	}
	if err := c.commitOutput(o); err != nil {
		return "", err
	}
	c.live[o.ID] = o
	return o.ID, nil
}

// AppendTerminal appends text to the terminal output previously created
// with outputID, used by streaming workers to coalesce chunks into one
// record. Appending to an unknown id is a no-op.
func (c *Context) AppendTerminal(outputID, text string) error {
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.live[outputID]
	if !ok || o.OutputType != types.OutputTerminal {
		return nil
	}
	o.Text += text
	return c.commitOutputUpdate(o)
}

// Markdown emits a new appendable markdown output and returns its id.
func (c *Context) Markdown(content string, metadata map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.nextPositionLocked()
	if err != nil {
		return "", err
	}

	o := &types.Output{
		ID:         idgen.New(),
		CellID:     c.cellID,
		Position:   pos,
		OutputType: types.OutputMarkdown,
		Text:       content,
	}
	if err := c.commitOutput(o); err != nil {
		return "", err
	}
	c.live[o.ID] = o
	return o.ID, nil
}

// AppendMarkdown appends text to the markdown output outputID, used for
// token-by-token streaming of assistant responses.
func (c *Context) AppendMarkdown(outputID, text string) error {
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.live[outputID]
	if !ok || o.OutputType != types.OutputMarkdown {
		return nil
	}
	o.Text += text
	return c.commitOutputUpdate(o)
}

// Display emits a new multimedia_display output. If displayID is
// non-empty, later UpdateDisplay calls against that id replace this
// output's representations in place.
func (c *Context) Display(data map[string]any, metadata map[string]any, displayID string) (string, error) {
	reps, err := shapeRepresentations(data, metadata)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.nextPositionLocked()
	if err != nil {
		return "", err
	}

	o := &types.Output{
		ID:              idgen.New(),
		CellID:          c.cellID,
		Position:        pos,
		OutputType:      types.OutputMultimediaDisplay,
		Representations: reps,
	}
	if displayID != "" {
		id := displayID
		o.DisplayID = &id
	}
	if err := c.commitOutput(o); err != nil {
		return "", err
	}
	c.live[o.ID] = o
	if displayID != "" {
		c.displayIDs[displayID] = o.ID
	}
	return o.ID, nil
}

// UpdateDisplay replaces the representations of the output previously
// created with displayID. If no such display exists, the update is
// ignored, per spec root §4.2.
func (c *Context) UpdateDisplay(displayID string, data map[string]any, metadata map[string]any) error {
	reps, err := shapeRepresentations(data, metadata)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	outputID, ok := c.displayIDs[displayID]
	if !ok {
		return nil
	}
	o, ok := c.live[outputID]
	if !ok {
		return nil
	}
	o.Representations = reps
	return c.commitOutputUpdate(o)
}

// Result emits a multimedia_result output carrying the queue entry's
// executionCount.
func (c *Context) Result(data map[string]any, metadata map[string]any) error {
	reps, err := shapeRepresentations(data, metadata)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.nextPositionLocked()
	if err != nil {
		return err
	}

	execCount := c.execCount
	o := &types.Output{
		ID:              idgen.New(),
		CellID:          c.cellID,
		Position:        pos,
		OutputType:      types.OutputMultimediaResult,
		Representations: reps,
		ExecutionCount:  &execCount,
	}
	if err := c.commitOutput(o); err != nil {
		return err
	}
	c.live[o.ID] = o
	return nil
}

// Error emits an error output.
func (c *Context) Error(name, value string, traceback []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.nextPositionLocked()
	if err != nil {
		return err
	}

	o := &types.Output{
		ID:         idgen.New(),
		CellID:     c.cellID,
		Position:   pos,
		OutputType: types.OutputError,
		EName:      name,
		EValue:     value,
		Traceback:  traceback,
	}
	if err := c.commitOutput(o); err != nil {
		return err
	}
	c.live[o.ID] = o
	return nil
}

// Clear clears all current outputs for this cell. With wait=false the
// clear is committed immediately and the position counter resets to 0.
// With wait=true the clear is deferred until the next new output arrives,
// so the replacement looks atomic to a viewer; the position counter is
// not reset (spec root §4.2, §9 decision 2).
func (c *Context) Clear(wait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wait {
		c.pendingClear = true
		return nil
	}

	if err := c.st.Commit(context.Background(), c.notebookID, types.Event{
		Type: types.EventCellOutputsCleared,
		Data: &types.CellOutputsClearedData{CellID: c.cellID, Wait: false},
	}); err != nil {
		return err
	}
	c.position = 0
	c.pendingClear = false
	c.displayIDs = make(map[string]string)
	c.live = make(map[string]*types.Output)
	return nil
}
