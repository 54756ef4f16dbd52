package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

func TestExecuteCellToolQueuesExecution(t *testing.T) {
	st := newTestStore(t)
	seedCell(t, st, types.Cell{ID: "c1", NotebookID: "nb-1", CellType: types.CellCode, ExecutionCount: 2})

	tool := NewExecuteCellTool()
	toolCtx := &Context{Store: st, NotebookID: "nb-1", SessionID: "sess-7"}

	input, _ := json.Marshal(ExecuteCellInput{CellID: "c1"})
	result, err := tool.Execute(context.Background(), input, toolCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	queueID, _ := result.Metadata["queueId"].(string)
	if queueID == "" {
		t.Fatal("expected a queueId in result metadata")
	}

	entries, err := store.QueryTyped[types.ExecutionQueueEntry](context.Background(), st, store.Selector{
		NotebookID: "nb-1",
		Table:      store.TableQueue,
		Where:      store.WhereQueue(func(e types.ExecutionQueueEntry) bool { return e.ID == queueID }),
	})
	if err != nil || len(entries) != 1 {
		t.Fatalf("query queue entry: %v, %d rows", err, len(entries))
	}
	if entries[0].RequestedBy != "ai-assistant-sess-7" {
		t.Errorf("expected requestedBy ai-assistant-sess-7, got %q", entries[0].RequestedBy)
	}
	if entries[0].ExecutionCount != 3 {
		t.Errorf("expected executionCount 3, got %d", entries[0].ExecutionCount)
	}
	if entries[0].Status != types.QueuePending {
		t.Errorf("expected pending status, got %q", entries[0].Status)
	}
}

func TestExecuteCellToolRejectsNonExecutableCell(t *testing.T) {
	st := newTestStore(t)
	seedCell(t, st, types.Cell{ID: "c1", NotebookID: "nb-1", CellType: types.CellMarkdown})

	tool := NewExecuteCellTool()
	toolCtx := &Context{Store: st, NotebookID: "nb-1", SessionID: "sess-7"}

	input, _ := json.Marshal(ExecuteCellInput{CellID: "c1"})
	if _, err := tool.Execute(context.Background(), input, toolCtx); err == nil {
		t.Fatal("expected an error for a non-executable cell")
	}
}

func TestExecuteCellToolUnknownCell(t *testing.T) {
	st := newTestStore(t)

	tool := NewExecuteCellTool()
	toolCtx := &Context{Store: st, NotebookID: "nb-1", SessionID: "sess-7"}

	input, _ := json.Marshal(ExecuteCellInput{CellID: "missing"})
	_, err := tool.Execute(context.Background(), input, toolCtx)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected a not-found error, got %v", err)
	}
}
