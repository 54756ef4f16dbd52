// Package ai implements the AI cell tool-use loop (spec root §4.4): a
// multi-turn conversation driver that streams assistant markdown
// token-by-token, dispatches model tool calls into notebook mutations,
// and feeds tool results back as conversation turns until the model
// stops calling tools or a turn cap is hit. Grounded on
// internal/session/loop.go + stream.go + tools.go's streaming/tool-call
// loop, restructured around the notebook tool set and execctx.Context
// instead of session message parts.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"

	"github.com/cellrt/runtime-agent/internal/execctx"
	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/internal/permission"
	"github.com/cellrt/runtime-agent/internal/provider"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/internal/tool"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// ErrCancelled is returned when the abort signal fires mid-loop.
var ErrCancelled = errors.New("ai: execution cancelled")

// DefaultMaxIterations bounds the tool-use loop when the caller's config
// doesn't set one (spec root §4.4: "maxIterations (default small, e.g.
// 10)").
const DefaultMaxIterations = 10

// Retry tuning for transient provider failures within one turn, matching
// session.runLoop's newRetryBackoff constants.
const (
	maxRetries           = 3
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
)

// newRetryBackoff builds a jittered exponential backoff bounded by ctx,
// matching session.runLoop's retry shape.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// Driver drives one ai-type cell's tool-use loop against a configured
// model provider, dispatching tool calls into the notebook tool registry.
type Driver struct {
	st            store.Store
	notebookID    string
	sessionID     string
	providers     *provider.Registry
	tools         *tool.Registry
	maxIterations int
	checker       *permission.Checker
	doomLoop      *permission.DoomLoopDetector
}

// New constructs a Driver scoped to one runtime session. Its checker starts
// from permission.DefaultToolPermissions; WithPermissions replaces it.
func New(st store.Store, notebookID, sessionID string, providers *provider.Registry, tools *tool.Registry, maxIterations int) *Driver {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Driver{
		st:            st,
		notebookID:    notebookID,
		sessionID:     sessionID,
		providers:     providers,
		tools:         tools,
		maxIterations: maxIterations,
		checker:       permission.NewChecker(nil),
		doomLoop:      permission.NewDoomLoopDetector(),
	}
}

// WithPermissions overrides the driver's tool-permission table; returns d
// for chaining at construction time.
func (d *Driver) WithPermissions(permissions permission.ToolPermissions) *Driver {
	d.checker = permission.NewChecker(permissions)
	return d
}

// Handler adapts the driver into an engine.Handler-shaped closure; the
// engine package itself is not imported here to avoid a cycle (the same
// pattern worker.Bridge.Handler uses).
func (d *Driver) Handler() func(ctx context.Context, execCtx *execctx.Context, cell types.Cell) (map[string]any, error) {
	return func(ctx context.Context, execCtx *execctx.Context, cell types.Cell) (map[string]any, error) {
		return nil, d.Run(ctx, execCtx, cell)
	}
}

// Run drives the tool-use loop for cell. It always returns through the
// output protocol (markdown, error displays) rather than failing the
// dispatch for anything short of cancellation or a missing model, per
// spec root §4.4/§7.
func (d *Driver) Run(ctx context.Context, execCtx *execctx.Context, cell types.Cell) error {
	if strings.TrimSpace(cell.Source) == "" {
		return nil // empty AI cell completes successfully with no outputs (property 10).
	}
	defer d.doomLoop.Clear(d.sessionID)

	model, prov, err := d.resolveModel()
	if err != nil {
		_, werr := execCtx.Markdown(notConfiguredMessage(), nil)
		if werr != nil {
			logging.Debug().Err(werr).Msg("ai: provider-not-configured display failed")
		}
		return nil // a supported operational state, not a failure (spec root §4.4).
	}

	cells, err := store.QueryTyped[types.Cell](ctx, d.st, store.Selector{
		NotebookID: d.notebookID,
		Table:      store.TableCells,
	})
	if err != nil {
		return fmt.Errorf("ai: query cells: %w", err)
	}

	priorCells := visibleCells(cells, cell)
	outputsByCell := make(map[string][]types.Output, len(priorCells))
	for _, c := range priorCells {
		outs, err := loadOutputs(ctx, d.st, d.notebookID, c.ID)
		if err != nil {
			return fmt.Errorf("ai: load outputs for cell %s: %w", c.ID, err)
		}
		outputsByCell[c.ID] = outs
	}

	messages := buildConversation(d.sessionID, cell, priorCells, outputsByCell)

	loop := &turnLoop{
		driver:   d,
		execCtx:  execCtx,
		cell:     cell,
		model:    model,
		prov:     prov,
		messages: messages,
		abortCh:  ctx.Done(),
	}
	return loop.run(ctx)
}

// resolveModel picks the model/provider an AI cell runs against. Model
// selection is not exposed per-cell by spec root §3's Cell schema, so the
// configured default model is used for every AI cell.
func (d *Driver) resolveModel() (*types.Model, provider.Provider, error) {
	if d.providers == nil {
		return nil, nil, fmt.Errorf("ai: no provider registry configured")
	}
	model, err := d.providers.DefaultModel()
	if err != nil {
		return nil, nil, err
	}
	prov, err := d.providers.Get(model.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	return model, prov, nil
}

func notConfiguredMessage() string {
	return "No AI model provider is configured for this runtime.\n\n" +
		"To enable AI cells, set one of:\n\n" +
		"- ANTHROPIC_API_KEY (Anthropic / Claude)\n" +
		"- OPENAI_API_KEY (OpenAI)\n" +
		"- ARK_API_KEY (Volcengine Ark)\n\n" +
		"and restart the runtime agent."
}

// turnLoop holds the mutable state of one execution's tool-use loop:
// the running conversation, the lazily-created markdown output, and the
// turn counter.
type turnLoop struct {
	driver  *Driver
	execCtx *execctx.Context
	cell    types.Cell
	model   *types.Model
	prov    provider.Provider

	messages []*schema.Message
	abortCh  <-chan struct{}

	markdownID string // lazily created on first assistant content token
}

func (l *turnLoop) aborted() bool {
	select {
	case <-l.abortCh:
		return true
	default:
		return false
	}
}

func (l *turnLoop) cancel() error {
	if _, err := l.execCtx.Stderr("execution was cancelled\n"); err != nil {
		logging.Debug().Err(err).Msg("ai: cancellation stderr commit failed")
	}
	return ErrCancelled
}

func (l *turnLoop) run(ctx context.Context) error {
	retry := newRetryBackoff(ctx)

	for turn := 0; turn < l.driver.maxIterations; turn++ {
		if l.aborted() {
			return l.cancel()
		}

		req := &provider.CompletionRequest{
			Model:       l.model.ID,
			Messages:    l.messages,
			Tools:       l.driver.tools.ToolInfos(),
			MaxTokens:   l.model.MaxOutputTokens,
			Temperature: 0,
		}

		assistantText, calls, err := l.runTurn(ctx, req)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return l.cancel()
			}

			next := retry.NextBackOff()
			if next == backoff.Stop {
				return fmt.Errorf("ai: %w", err)
			}
			logging.Debug().Err(err).Dur("backoff", next).Msg("ai: retrying completion after transient failure")
			select {
			case <-ctx.Done():
				return l.cancel()
			case <-time.After(next):
			}
			turn--
			continue
		}
		retry.Reset()

		if len(calls) == 0 {
			return nil
		}

		if l.aborted() {
			return l.cancel()
		}

		assistantMsg, toolMsgs := l.dispatchToolCalls(ctx, assistantText, calls)
		l.messages = append(l.messages, assistantMsg)
		l.messages = append(l.messages, toolMsgs...)
	}

	if _, err := l.appendMarkdown("\n\n_Maximum iterations reached._\n"); err != nil {
		logging.Debug().Err(err).Msg("ai: max-iterations display failed")
	}
	return nil
}

// runTurn performs one model call and drains its stream, returning whatever
// drainStream accumulated even on error so a cancelled mid-stream turn still
// reports partial content.
func (l *turnLoop) runTurn(ctx context.Context, req *provider.CompletionRequest) (string, []accumulatingToolCall, error) {
	stream, err := l.prov.CreateCompletion(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("create completion: %w", err)
	}
	defer stream.Close()

	assistantText, calls, err := l.drainStream(stream)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return assistantText, calls, ErrCancelled
		}
		return assistantText, calls, fmt.Errorf("stream: %w", err)
	}
	return assistantText, calls, nil
}

// accumulatingToolCall tracks one tool call's fragments as they stream in,
// keyed the same way stream.go keys eino's Index-based tool-call deltas.
type accumulatingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// drainStream reads every chunk of one turn's completion stream, appending
// assistant text to the cell's markdown output as it arrives and
// accumulating tool-call fragments, matching the teacher's
// processMessageChunk accumulation rules (accumulated vs. delta content
// detection).
func (l *turnLoop) drainStream(stream *provider.CompletionStream) (string, []accumulatingToolCall, error) {
	var accumulatedContent string
	order := make([]string, 0)
	calls := make(map[string]*accumulatingToolCall)

	for {
		if l.aborted() {
			return accumulatedContent, flatten(order, calls), ErrCancelled
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return accumulatedContent, flatten(order, calls), err
		}

		if msg.Content != "" {
			var delta string
			if accumulatedContent != "" && strings.HasPrefix(msg.Content, accumulatedContent) {
				delta = msg.Content[len(accumulatedContent):]
				accumulatedContent = msg.Content
			} else if accumulatedContent == "" {
				delta = msg.Content
				accumulatedContent = msg.Content
			} else {
				delta = msg.Content
				accumulatedContent += msg.Content
			}
			if err := l.onContentDelta(delta); err != nil {
				logging.Debug().Err(err).Msg("ai: markdown append failed")
			}
		}

		for _, tc := range msg.ToolCalls {
			key := toolCallKey(tc)
			ac, exists := calls[key]
			if !exists {
				if tc.ID == "" {
					continue
				}
				ac = &accumulatingToolCall{id: tc.ID, name: tc.Function.Name}
				calls[key] = ac
				order = append(order, key)
			}
			if tc.Function.Name != "" {
				ac.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				ac.args.WriteString(tc.Function.Arguments)
			}
		}
	}

	return accumulatedContent, flatten(order, calls), nil
}

func toolCallKey(tc schema.ToolCall) string {
	if tc.Index != nil {
		return fmt.Sprintf("idx:%d", *tc.Index)
	}
	return tc.ID
}

func flatten(order []string, calls map[string]*accumulatingToolCall) []accumulatingToolCall {
	out := make([]accumulatingToolCall, 0, len(order))
	for _, k := range order {
		out = append(out, *calls[k])
	}
	return out
}

func (l *turnLoop) onContentDelta(delta string) error {
	if delta == "" {
		return nil
	}
	if l.markdownID == "" {
		id, err := l.execCtx.Markdown(delta, nil)
		if err != nil {
			return err
		}
		l.markdownID = id
		return nil
	}
	return l.execCtx.AppendMarkdown(l.markdownID, delta)
}

func (l *turnLoop) appendMarkdown(text string) (string, error) {
	if l.markdownID == "" {
		id, err := l.execCtx.Markdown(text, nil)
		l.markdownID = id
		return id, err
	}
	return l.markdownID, l.execCtx.AppendMarkdown(l.markdownID, text)
}

// dispatchToolCalls executes every collected tool call against the
// notebook tool registry, emitting an invocation display and a result
// display for each (spec root §4.4 steps 1-5), and returns the assistant
// message (carrying the tool calls) plus one tool-result message per
// call, ready to append to the running conversation.
func (l *turnLoop) dispatchToolCalls(ctx context.Context, assistantText string, calls []accumulatingToolCall) (*schema.Message, []*schema.Message) {
	schemaCalls := make([]schema.ToolCall, 0, len(calls))
	toolMsgs := make([]*schema.Message, 0, len(calls))

	toolCtx := &tool.Context{
		Store:         l.driver.st,
		NotebookID:    l.driver.notebookID,
		SessionID:     l.driver.sessionID,
		CurrentCellID: l.cell.ID,
		AbortCh:       l.abortCh,
	}

	for _, c := range calls {
		argsJSON := c.args.String()
		schemaCalls = append(schemaCalls, schema.ToolCall{
			ID:       c.id,
			Function: schema.FunctionCall{Name: c.name, Arguments: argsJSON},
		})

		var input json.RawMessage
		if err := json.Unmarshal([]byte(argsJSON), &input); err != nil {
			msg := fmt.Sprintf("invalid arguments for %s: %v", c.name, err)
			l.emitToolCallDisplay(c.id, c.name, argsJSON)
			l.emitToolResultDisplay(c.id, msg)
			toolMsgs = append(toolMsgs, &schema.Message{Role: schema.Tool, Content: msg, ToolCallID: c.id})
			continue
		}

		l.emitToolCallDisplay(c.id, c.name, argsJSON)

		result, err := l.guardedInvoke(ctx, toolCtx, c.name, input)
		l.emitToolResultDisplay(c.id, result)
		toolMsgs = append(toolMsgs, &schema.Message{Role: schema.Tool, Content: result, ToolCallID: c.id})
		if err != nil {
			logging.Debug().Err(err).Str("tool", c.name).Msg("ai: tool call returned an error result")
		}
	}

	assistantMsg := &schema.Message{Role: schema.Assistant, Content: assistantText, ToolCalls: schemaCalls}
	return assistantMsg, toolMsgs
}

// guardedInvoke runs the permission check and doom-loop detector ahead of
// every tool call, matching checker.go's Check-before-Execute ordering,
// before handing off to invokeTool.
func (l *turnLoop) guardedInvoke(ctx context.Context, toolCtx *tool.Context, name string, input json.RawMessage) (string, error) {
	permType := permission.Type(name)
	if err := l.driver.checker.Check(permission.Request{
		SessionID: l.driver.sessionID,
		Type:      permType,
		Input:     json.RawMessage(input),
	}); err != nil {
		return fmt.Sprintf("Error: %v", err), err
	}

	if l.driver.doomLoop.Check(l.driver.sessionID, name, json.RawMessage(input)) {
		err := &permission.RejectedError{
			SessionID: l.driver.sessionID,
			Type:      permission.TypeDoomLoop,
			Message:   fmt.Sprintf("%s has been called with identical arguments %d times in a row; stopping to avoid a loop", name, permission.DoomLoopThreshold),
		}
		return fmt.Sprintf("Error: %v", err), err
	}

	return l.invokeTool(ctx, toolCtx, name, input)
}

func (l *turnLoop) invokeTool(ctx context.Context, toolCtx *tool.Context, name string, input json.RawMessage) (string, error) {
	t, ok := l.driver.tools.Get(name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name), fmt.Errorf("unknown tool %q", name)
	}
	result, err := t.Execute(ctx, input, toolCtx)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), err
	}
	return result.Output, nil
}

// Display's metadata argument is keyed by MIME type (see execctx/shape.go's
// metadataFor), so the aiKind/toolCallId/... tags ride along scoped under
// "text/plain" — the only representation these synthetic displays carry.
func (l *turnLoop) emitToolCallDisplay(callID, name, argsJSON string) {
	data := map[string]any{
		"text/plain": fmt.Sprintf("Calling %s(%s)", name, toolCallArgumentsJSON(argsJSON)),
	}
	metadata := map[string]any{
		"text/plain": map[string]any{
			metaKind:       kindToolCall,
			metaToolCallID: callID,
			metaToolName:   name,
			metaArguments:  argsJSON,
		},
	}
	if _, err := l.execCtx.Display(data, metadata, ""); err != nil {
		logging.Debug().Err(err).Str("tool", name).Msg("ai: tool-call display commit failed")
	}
}

func (l *turnLoop) emitToolResultDisplay(callID, result string) {
	data := map[string]any{"text/plain": result}
	metadata := map[string]any{
		"text/plain": map[string]any{
			metaKind:       kindToolResult,
			metaToolCallID: callID,
		},
	}
	if _, err := l.execCtx.Display(data, metadata, ""); err != nil {
		logging.Debug().Err(err).Str("callId", callID).Msg("ai: tool-result display commit failed")
	}
}
