package ai

import (
	"testing"

	"github.com/cellrt/runtime-agent/pkg/types"
)

func TestVisibleCellsExcludesLaterAndHiddenCells(t *testing.T) {
	current := types.Cell{ID: "cur", Position: 3}
	cells := []types.Cell{
		{ID: "a", Position: 1, AIContextVisible: true},
		{ID: "hidden", Position: 2, AIContextVisible: false},
		{ID: "cur", Position: 3, AIContextVisible: true},
		{ID: "later", Position: 4, AIContextVisible: true},
	}

	got := visibleCells(cells, current)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only cell %q visible, got %+v", "a", got)
	}
}

func TestVisibleCellsOrdersByPosition(t *testing.T) {
	current := types.Cell{ID: "cur", Position: 10}
	cells := []types.Cell{
		{ID: "b", Position: 2, AIContextVisible: true},
		{ID: "a", Position: 1, AIContextVisible: true},
	}

	got := visibleCells(cells, current)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("expected [a b] in position order, got %+v", got)
	}
}

func TestStripANSIRemovesEscapeCodes(t *testing.T) {
	got := stripANSI("\x1b[31mred\x1b[0m text")
	if got != "red text" {
		t.Errorf("stripANSI: got %q", got)
	}
}

func TestAIMediaBundlePrefersMarkdownThenPlainThenHTML(t *testing.T) {
	reps := map[string]types.Representation{
		"text/html":  {Data: "<p>hi</p>"},
		"text/plain": {Data: "plain"},
	}
	out := reprBundle(reps)
	if out != "plain" {
		t.Errorf("expected text/plain preferred over text/html, got %q", out)
	}

	reps = map[string]types.Representation{"text/html": {Data: "<p>hi <b>there</b></p>"}}
	out = reprBundle(reps)
	if out != "hi there" {
		t.Errorf("expected tag-stripped HTML fallback, got %q", out)
	}
}

func TestFoldAICellTurnsReconstructsToolCallsAndResults(t *testing.T) {
	cell := types.Cell{ID: "ai-1", CellType: types.CellAI}
	outputs := []types.Output{
		{
			CellID: "ai-1", Position: 0, OutputType: types.OutputMarkdown, Text: "Sure, creating a cell.",
		},
		{
			CellID: "ai-1", Position: 1, OutputType: types.OutputMultimediaDisplay,
			Representations: map[string]types.Representation{
				"text/plain": {Data: "Calling create_cell(...)", Metadata: map[string]any{
					metaKind: kindToolCall, metaToolCallID: "call-1", metaToolName: "create_cell", metaArguments: `{"a":1}`,
				}},
			},
		},
		{
			CellID: "ai-1", Position: 2, OutputType: types.OutputMultimediaDisplay,
			Representations: map[string]types.Representation{
				"text/plain": {Data: "Created cell-2", Metadata: map[string]any{
					metaKind: kindToolResult, metaToolCallID: "call-1",
				}},
			},
		},
	}

	msgs := foldAICellTurns(cell, outputs)
	if len(msgs) != 2 {
		t.Fatalf("expected an assistant message and a tool message, got %d", len(msgs))
	}
	if msgs[0].Content != "Sure, creating a cell." || len(msgs[0].ToolCalls) != 1 {
		t.Fatalf("unexpected assistant message: %+v", msgs[0])
	}
	if msgs[0].ToolCalls[0].ID != "call-1" || msgs[0].ToolCalls[0].Function.Name != "create_cell" {
		t.Fatalf("unexpected tool call: %+v", msgs[0].ToolCalls[0])
	}
	if msgs[1].ToolCallID != "call-1" || msgs[1].Content != "Created cell-2" {
		t.Fatalf("unexpected tool result message: %+v", msgs[1])
	}
}

func TestFoldAICellTurnsIgnoresNonAICells(t *testing.T) {
	cell := types.Cell{ID: "code-1", CellType: types.CellCode}
	outputs := []types.Output{{CellID: "code-1", OutputType: types.OutputMarkdown, Text: "hi"}}
	if got := foldAICellTurns(cell, outputs); got != nil {
		t.Fatalf("expected nil for a non-AI cell, got %+v", got)
	}
}
