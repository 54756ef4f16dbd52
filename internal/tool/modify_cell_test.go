package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

func TestModifyCellToolReplacesSource(t *testing.T) {
	st := newTestStore(t)
	seedCell(t, st, types.Cell{ID: "c1", NotebookID: "nb-1", CellType: types.CellCode, Source: "print(1)"})

	tool := NewModifyCellTool()
	toolCtx := &Context{Store: st, NotebookID: "nb-1"}

	input, _ := json.Marshal(ModifyCellInput{CellID: "c1", Content: "print(2)"})
	result, err := tool.Execute(context.Background(), input, toolCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Output, "c1") {
		t.Errorf("expected output to mention the cell id, got %q", result.Output)
	}

	cells, err := store.QueryTyped[types.Cell](context.Background(), st, store.Selector{
		NotebookID: "nb-1",
		Table:      store.TableCells,
		Where:      store.WhereCells(func(c types.Cell) bool { return c.ID == "c1" }),
	})
	if err != nil || len(cells) != 1 {
		t.Fatalf("query cell: %v, %d rows", err, len(cells))
	}
	if cells[0].Source != "print(2)" {
		t.Errorf("expected updated source, got %q", cells[0].Source)
	}
}

func TestModifyCellToolUnknownCellSuggestsClosest(t *testing.T) {
	st := newTestStore(t)
	seedCell(t, st, types.Cell{ID: "cell-42", NotebookID: "nb-1", CellType: types.CellCode})

	tool := NewModifyCellTool()
	toolCtx := &Context{Store: st, NotebookID: "nb-1"}

	input, _ := json.Marshal(ModifyCellInput{CellID: "cell-24", Content: "x"})
	_, err := tool.Execute(context.Background(), input, toolCtx)
	if err == nil {
		t.Fatal("expected an error for an unknown cell id")
	}
	if !strings.Contains(err.Error(), "cell-42") {
		t.Errorf("expected the error to suggest cell-42, got %v", err)
	}
}
