package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st := store.NewFSStore(t.TempDir())
	t.Cleanup(func() { st.Close() })
	return st
}

func seedCell(t *testing.T, st store.Store, cell types.Cell) {
	t.Helper()
	if err := st.Commit(context.Background(), cell.NotebookID, types.Event{
		Type: types.EventCellCreated,
		Data: &types.CellCreatedData{Cell: &cell},
	}); err != nil {
		t.Fatalf("seed cell: %v", err)
	}
}

func TestCreateCellToolAfterCurrent(t *testing.T) {
	st := newTestStore(t)
	seedCell(t, st, types.Cell{ID: "ai-cell", NotebookID: "nb-1", CellType: types.CellAI, Position: 1.0})

	tool := NewCreateCellTool()
	toolCtx := &Context{Store: st, NotebookID: "nb-1", SessionID: "sess-1", CurrentCellID: "ai-cell"}

	input, _ := json.Marshal(CreateCellInput{CellType: "code", Content: "print('hello')", Position: "after_current"})
	result, err := tool.Execute(context.Background(), input, toolCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	cellID, _ := result.Metadata["cellId"].(string)
	if cellID == "" {
		t.Fatal("expected a cellId in result metadata")
	}

	cells, err := store.QueryTyped[types.Cell](context.Background(), st, store.Selector{
		NotebookID: "nb-1",
		Table:      store.TableCells,
		Where:      store.WhereCells(func(c types.Cell) bool { return c.ID == cellID }),
	})
	if err != nil || len(cells) != 1 {
		t.Fatalf("query new cell: %v, %d rows", err, len(cells))
	}
	if cells[0].Position != 1.1 {
		t.Errorf("expected position 1.1, got %g", cells[0].Position)
	}
	if cells[0].Source != "print('hello')" {
		t.Errorf("expected source to be set, got %q", cells[0].Source)
	}
}

func TestCreateCellToolAtEnd(t *testing.T) {
	st := newTestStore(t)
	seedCell(t, st, types.Cell{ID: "c1", NotebookID: "nb-1", CellType: types.CellCode, Position: 1.0})
	seedCell(t, st, types.Cell{ID: "c2", NotebookID: "nb-1", CellType: types.CellCode, Position: 2.0})

	tool := NewCreateCellTool()
	toolCtx := &Context{Store: st, NotebookID: "nb-1", SessionID: "sess-1", CurrentCellID: "c1"}

	input, _ := json.Marshal(CreateCellInput{CellType: "markdown", Content: "notes", Position: "at_end"})
	result, err := tool.Execute(context.Background(), input, toolCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	position, _ := result.Metadata["position"].(float64)
	if position != 3.0 {
		t.Errorf("expected position 3.0, got %g", position)
	}
}

func TestCreateCellToolRejectsUnknownCellType(t *testing.T) {
	st := newTestStore(t)
	tool := NewCreateCellTool()
	toolCtx := &Context{Store: st, NotebookID: "nb-1"}

	input, _ := json.Marshal(CreateCellInput{CellType: "bogus", Content: "x", Position: "at_end"})
	if _, err := tool.Execute(context.Background(), input, toolCtx); err == nil {
		t.Fatal("expected an error for an unsupported cellType")
	}
}
