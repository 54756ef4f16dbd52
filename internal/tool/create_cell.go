package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/idgen"
	"github.com/cellrt/runtime-agent/pkg/types"
)

const createCellDescription = `Creates a new notebook cell.

Usage:
- cellType selects how the new cell's source is interpreted (code, markdown, raw, sql)
- content is the cell's initial source text
- position places the new cell relative to the cell the AI assistant is running in:
  before_current, after_current, or at_end`

// CreateCellTool implements create_cell.
type CreateCellTool struct{}

// NewCreateCellTool creates a new create_cell tool.
func NewCreateCellTool() *CreateCellTool { return &CreateCellTool{} }

// CreateCellInput is the input for create_cell.
type CreateCellInput struct {
	CellType string `json:"cellType"`
	Content  string `json:"content"`
	Position string `json:"position"`
}

func (t *CreateCellTool) ID() string          { return "create_cell" }
func (t *CreateCellTool) Description() string { return createCellDescription }

func (t *CreateCellTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"cellType": {
				"type": "string",
				"description": "code, markdown, raw, or sql"
			},
			"content": {
				"type": "string",
				"description": "Initial source text for the new cell"
			},
			"position": {
				"type": "string",
				"description": "before_current, after_current, or at_end"
			}
		},
		"required": ["cellType", "content", "position"]
	}`)
}

func (t *CreateCellTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params CreateCellInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	cellType := types.CellType(params.CellType)
	switch cellType {
	case types.CellCode, types.CellMarkdown, types.CellRaw, types.CellSQL:
	default:
		return nil, fmt.Errorf("unsupported cellType %q", params.CellType)
	}

	cells, err := store.QueryTyped[types.Cell](ctx, toolCtx.Store, store.Selector{
		NotebookID: toolCtx.NotebookID,
		Table:      store.TableCells,
	})
	if err != nil {
		return nil, fmt.Errorf("query cells: %w", err)
	}

	position, err := resolvePosition(cells, toolCtx.CurrentCellID, params.Position)
	if err != nil {
		return nil, err
	}

	cell := &types.Cell{
		ID:         idgen.New(),
		NotebookID: toolCtx.NotebookID,
		CellType:   cellType,
		Source:     params.Content,
		Position:   position,
	}

	if err := toolCtx.Store.Commit(ctx, toolCtx.NotebookID, types.Event{
		Type: types.EventCellCreated,
		Data: &types.CellCreatedData{Cell: cell},
	}); err != nil {
		return nil, fmt.Errorf("commit cellCreated: %w", err)
	}
	if err := toolCtx.Store.Commit(ctx, toolCtx.NotebookID, types.Event{
		Type: types.EventCellSourceChanged,
		Data: &types.CellSourceChangedData{CellID: cell.ID, Source: cell.Source},
	}); err != nil {
		return nil, fmt.Errorf("commit cellSourceChanged: %w", err)
	}

	return &Result{
		Title:  fmt.Sprintf("Created %s cell %s", cellType, cell.ID),
		Output: fmt.Sprintf("Created cell %s at position %g", cell.ID, position),
		Metadata: map[string]any{
			"cellId":   cell.ID,
			"position": position,
		},
	}, nil
}

// resolvePosition computes the new cell's fractional position relative to
// currentCellID, per create_cell's before_current/after_current/at_end
// placement rules.
func resolvePosition(cells []types.Cell, currentCellID, position string) (float64, error) {
	if position == "at_end" {
		max := 0.0
		for _, c := range cells {
			if c.Position > max {
				max = c.Position
			}
		}
		return types.PositionAtEnd(max), nil
	}

	var current *types.Cell
	for i := range cells {
		if cells[i].ID == currentCellID {
			current = &cells[i]
			break
		}
	}
	if current == nil {
		return 0, fmt.Errorf("current cell %s not found", currentCellID)
	}

	switch position {
	case "before_current":
		return types.PositionBefore(current.Position), nil
	case "after_current":
		return types.PositionAfter(current.Position), nil
	default:
		return 0, fmt.Errorf("unsupported position %q", position)
	}
}

func (t *CreateCellTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
