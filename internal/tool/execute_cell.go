package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/cellrt/runtime-agent/internal/engine"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/idgen"
	"github.com/cellrt/runtime-agent/pkg/types"
)

const executeCellDescription = `Requests execution of a code cell.

Usage:
- cellId must name an existing code cell
- the request is queued the same way a user-triggered execution is; some
  other runtime session may claim and run it`

// ExecuteCellTool implements execute_cell.
type ExecuteCellTool struct{}

// NewExecuteCellTool creates a new execute_cell tool.
func NewExecuteCellTool() *ExecuteCellTool { return &ExecuteCellTool{} }

// ExecuteCellInput is the input for execute_cell.
type ExecuteCellInput struct {
	CellID string `json:"cellId"`
}

func (t *ExecuteCellTool) ID() string          { return "execute_cell" }
func (t *ExecuteCellTool) Description() string { return executeCellDescription }

func (t *ExecuteCellTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"cellId": {
				"type": "string",
				"description": "The id of the code cell to execute"
			}
		},
		"required": ["cellId"]
	}`)
}

func (t *ExecuteCellTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ExecuteCellInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	cells, err := store.QueryTyped[types.Cell](ctx, toolCtx.Store, store.Selector{
		NotebookID: toolCtx.NotebookID,
		Table:      store.TableCells,
	})
	if err != nil {
		return nil, fmt.Errorf("query cells: %w", err)
	}

	var target *types.Cell
	for i := range cells {
		if cells[i].ID == params.CellID {
			target = &cells[i]
			break
		}
	}
	if target == nil {
		suggestion := engine.SuggestCellID(cells, params.CellID)
		if suggestion != "" {
			return nil, fmt.Errorf("cell %q not found, did you mean %q?", params.CellID, suggestion)
		}
		return nil, fmt.Errorf("cell %q not found", params.CellID)
	}
	if target.CellType != types.CellCode {
		return nil, fmt.Errorf("cell %q is not a code cell", params.CellID)
	}

	entry := &types.ExecutionQueueEntry{
		ID:             idgen.New(),
		NotebookID:     toolCtx.NotebookID,
		CellID:         target.ID,
		ExecutionCount: target.ExecutionCount + 1,
		RequestedBy:    fmt.Sprintf("ai-assistant-%s", toolCtx.SessionID),
		Status:         types.QueuePending,
	}

	if err := toolCtx.Store.Commit(ctx, toolCtx.NotebookID, types.Event{
		Type: types.EventExecutionRequested,
		Data: &types.ExecutionRequestedData{Queue: entry},
	}); err != nil {
		return nil, fmt.Errorf("commit executionRequested: %w", err)
	}

	return &Result{
		Title:  fmt.Sprintf("Queued execution of cell %s", target.ID),
		Output: fmt.Sprintf("Queued execution %s for cell %s", entry.ID, target.ID),
		Metadata: map[string]any{
			"cellId":  target.ID,
			"queueId": entry.ID,
		},
	}, nil
}

func (t *ExecuteCellTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
