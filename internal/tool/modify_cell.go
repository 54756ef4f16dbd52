package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/cellrt/runtime-agent/internal/engine"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

const modifyCellDescription = `Replaces a notebook cell's source.

Usage:
- cellId must name an existing cell in the notebook
- content replaces the cell's entire source`

// ModifyCellTool implements modify_cell.
type ModifyCellTool struct{}

// NewModifyCellTool creates a new modify_cell tool.
func NewModifyCellTool() *ModifyCellTool { return &ModifyCellTool{} }

// ModifyCellInput is the input for modify_cell.
type ModifyCellInput struct {
	CellID  string `json:"cellId"`
	Content string `json:"content"`
}

func (t *ModifyCellTool) ID() string          { return "modify_cell" }
func (t *ModifyCellTool) Description() string { return modifyCellDescription }

func (t *ModifyCellTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"cellId": {
				"type": "string",
				"description": "The id of the cell to modify"
			},
			"content": {
				"type": "string",
				"description": "The cell's new source, replacing its current content"
			}
		},
		"required": ["cellId", "content"]
	}`)
}

func (t *ModifyCellTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ModifyCellInput
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

	if err := toolCtx.Store.Commit(ctx, toolCtx.NotebookID, types.Event{
		Type: types.EventCellSourceChanged,
		Data: &types.CellSourceChangedData{CellID: target.ID, Source: params.Content},
	}); err != nil {
		return nil, fmt.Errorf("commit cellSourceChanged: %w", err)
	}

	diff, additions, deletions := buildSourceDiff(target.ID, target.Source, params.Content)

	return &Result{
		Title:  fmt.Sprintf("Modified cell %s", target.ID),
		Output: fmt.Sprintf("Replaced source of cell %s (+%d -%d)", target.ID, additions, deletions),
		Metadata: map[string]any{
			"cellId":    target.ID,
			"diff":      diff,
			"additions": additions,
			"deletions": deletions,
		},
	}, nil
}

func (t *ModifyCellTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
