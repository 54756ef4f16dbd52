// Package worker implements the code-worker bridge (spec root §4.3): it
// launches a sandboxed interpreter as an OS subprocess, speaks a
// control/stream protocol with it over stdin/stdout, and streams its
// output back through an execctx.Context.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/cellrt/runtime-agent/internal/execctx"
	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// execution is one queued {ctx, code} pair awaiting the worker's
// exclusive attention, plus the per-execution terminal-output coalescing
// state the stream handler needs.
type execution struct {
	ctx     context.Context
	execCtx *execctx.Context
	code    string
	done    chan error

	stdoutID string
	stderrID string
}

// Bridge owns exactly one worker subprocess. It is safe for concurrent
// ExecuteCode calls: only one execution is ever in flight against the
// worker, the rest wait in the FIFO queue.
type Bridge struct {
	launchCommand []string
	workDir       string
	packages      []string

	// interruptByte models the shared-memory interrupt cell of spec root
	// §4.3/§5: an ordinary heap-allocated byte slice, passed by reference,
	// since real cross-process shared memory is out of scope. Only the
	// bridge writes a non-zero value; only the worker is expected to
	// observe and clear it. For a real OS subprocess this is necessarily
	// approximated: Interrupt also sends a best-effort "interrupt" control
	// notification so an actual worker process can act on it cooperatively.
	interruptByte []byte

	startMu     sync.Mutex
	initialized bool
	cmd         *exec.Cmd
	conn        *conn

	queueMu sync.Mutex
	queue   []*execution
	pumping bool

	streamMu  sync.Mutex
	streaming *execution
}

// New constructs a Bridge. launchCommand comes straight from
// internal/config's WorkerCommand; packages is the set of packages the
// worker should preload, already filtered through the package allowlist.
func New(launchCommand []string, workDir string, packages []string) *Bridge {
	return &Bridge{
		launchCommand: launchCommand,
		workDir:       workDir,
		packages:      packages,
		interruptByte: make([]byte, 1),
	}
}

// Handler adapts the bridge into an engine.Handler-shaped closure (the
// engine package itself is not imported here to avoid a cycle; callers
// wire this function value into engine.New's handlers map directly).
func (b *Bridge) Handler() func(ctx context.Context, execCtx *execctx.Context, cell types.Cell) (map[string]any, error) {
	return func(ctx context.Context, execCtx *execctx.Context, cell types.Cell) (map[string]any, error) {
		return nil, b.ExecuteCode(ctx, execCtx, cell.Source)
	}
}

// ExecuteCode implements spec root §4.3's executeCode: it enqueues the
// execution behind the FIFO queue and blocks until it has run (or ctx is
// done first).
func (b *Bridge) ExecuteCode(ctx context.Context, execCtx *execctx.Context, code string) error {
	if execCtx.CheckCancellation() != nil {
		execCtx.Stderr("execution was cancelled")
		return execctx.ErrCancelled
	}

	e := &execution{ctx: ctx, execCtx: execCtx, code: code, done: make(chan error, 1)}
	b.enqueue(e)

	select {
	case err := <-e.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) enqueue(e *execution) {
	b.queueMu.Lock()
	b.queue = append(b.queue, e)
	start := !b.pumping
	if start {
		b.pumping = true
	}
	b.queueMu.Unlock()

	if start {
		go b.pump()
	}
}

// pump drains the FIFO queue one entry at a time, guaranteeing only one
// execution ever flows through the worker concurrently.
func (b *Bridge) pump() {
	for {
		b.queueMu.Lock()
		if len(b.queue) == 0 {
			b.pumping = false
			b.queueMu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		e.done <- b.runOne(e)
	}
}

func (b *Bridge) runOne(e *execution) error {
	if err := b.ensureStarted(); err != nil {
		execErr := fmt.Errorf("worker: %w", err)
		e.execCtx.Error("WorkerUnavailable", execErr.Error(), nil)
		return execErr
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-e.execCtx.AbortSignal():
			b.interrupt()
		case <-stop:
		}
	}()

	b.setStreaming(e)
	resultRaw, callErr := b.conn.call("execute", executeParams{Code: e.code})

	var retErr error
	if callErr != nil {
		ename, evalue, cancelled := parseWorkerError(callErr.Error())
		if cancelled {
			e.execCtx.Stderr("execution was cancelled")
			retErr = execctx.ErrCancelled
		} else {
			e.execCtx.Error(ename, evalue, nil)
			retErr = fmt.Errorf("%s: %s", ename, evalue)
		}
	} else if len(resultRaw) > 0 && string(resultRaw) != "null" {
		var result map[string]any
		if err := json.Unmarshal(resultRaw, &result); err == nil && len(result) > 0 {
			if canon, ok := canonicalize(result).(map[string]any); ok {
				if err := e.execCtx.Result(canon, nil); err != nil {
					logging.Debug().Err(err).Msg("worker: result commit failed")
				}
			}
		}
	}

	close(stop)
	b.clearStreaming()
	b.resetInterrupt()
	return retErr
}

func (b *Bridge) setStreaming(e *execution) {
	b.streamMu.Lock()
	b.streaming = e
	b.streamMu.Unlock()
}

func (b *Bridge) clearStreaming() {
	b.streamMu.Lock()
	b.streaming = nil
	b.streamMu.Unlock()
}

func (b *Bridge) getStreaming() *execution {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	return b.streaming
}

// interrupt sets the shared interrupt byte to the platform SIGINT value
// and best-effort-notifies the worker process over the control channel.
func (b *Bridge) interrupt() {
	b.interruptByte[0] = 2
	b.startMu.Lock()
	c := b.conn
	b.startMu.Unlock()
	if c != nil {
		if err := c.notify("interrupt", nil); err != nil {
			logging.Debug().Err(err).Msg("worker: interrupt notification failed")
		}
	}
}

func (b *Bridge) resetInterrupt() {
	b.interruptByte[0] = 0
}

// handleStream routes one worker stream message to the currently
// streaming execution's context, per spec root §4.3 step 4. A message
// arriving with no execution currently streaming is logged and dropped —
// it can only mean the worker sent something after the bridge stopped
// listening (e.g. a crash race).
func (b *Bridge) handleStream(msg streamMessage) {
	e := b.getStreaming()
	if e == nil {
		logging.Debug().Str("kind", msg.Kind).Msg("worker: stream message with no execution in flight")
		return
	}

	if msg.Kind == "log" {
		logging.Debug().Str("text", msg.Text).Msg("worker log")
		return
	}

	switch msg.Type {
	case "stdout":
		b.appendTerminal(e, &e.stdoutID, "stdout", msg.Text)
	case "stderr":
		b.appendTerminal(e, &e.stderrID, "stderr", msg.Text)
	case "display_data":
		displayID := ""
		if msg.Transient != nil {
			displayID = msg.Transient.DisplayID
		}
		if _, err := e.execCtx.Display(canonicalizeMap(msg.Data), msg.Metadata, displayID); err != nil {
			logging.Debug().Err(err).Msg("worker: display commit failed")
		}
	case "update_display_data":
		displayID := ""
		if msg.Transient != nil {
			displayID = msg.Transient.DisplayID
		}
		if err := e.execCtx.UpdateDisplay(displayID, canonicalizeMap(msg.Data), msg.Metadata); err != nil {
			logging.Debug().Err(err).Msg("worker: updateDisplay commit failed")
		}
	case "execute_result":
		if err := e.execCtx.Result(canonicalizeMap(msg.Data), msg.Metadata); err != nil {
			logging.Debug().Err(err).Msg("worker: result commit failed")
		}
	case "error":
		if err := e.execCtx.Error(msg.EName, msg.EValue, msg.Traceback); err != nil {
			logging.Debug().Err(err).Msg("worker: error commit failed")
		}
	case "clear_output":
		if err := e.execCtx.Clear(msg.Wait); err != nil {
			logging.Debug().Err(err).Msg("worker: clear commit failed")
		}
		e.stdoutID = ""
		e.stderrID = ""
	default:
		logging.Debug().Str("type", msg.Type).Msg("worker: unrecognized stream_output type")
	}
}

func (b *Bridge) appendTerminal(e *execution, id *string, stream, text string) {
	if text == "" {
		return
	}
	if *id == "" {
		var err error
		var newID string
		if stream == "stdout" {
			newID, err = e.execCtx.Stdout(text)
		} else {
			newID, err = e.execCtx.Stderr(text)
		}
		if err != nil {
			logging.Debug().Err(err).Msg("worker: terminal output commit failed")
			return
		}
		*id = newID
		return
	}
	if err := e.execCtx.AppendTerminal(*id, text); err != nil {
		logging.Debug().Err(err).Msg("worker: terminal append commit failed")
	}
}

func canonicalizeMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	if canon, ok := canonicalize(data).(map[string]any); ok {
		return canon
	}
	return data
}

// Close terminates the worker process, if one is running. Safe to call
// even if the bridge never started.
func (b *Bridge) Close() error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.conn != nil {
		b.conn.close()
		b.conn = nil
	}
	if b.cmd != nil && b.cmd.Process != nil {
		b.cmd.Process.Kill()
	}
	b.initialized = false
	return nil
}
