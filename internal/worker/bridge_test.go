package worker

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/cellrt/runtime-agent/internal/execctx"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// newBridgeForTest builds a Bridge wired to an in-process fake worker
// over a pair of pipes, bypassing the real subprocess spawn in
// ensureStarted (already initialized so ExecuteCode skips it).
func newBridgeForTest() (*Bridge, *fakeWorker) {
	toWorker, fromBridge := io.Pipe()
	toBridge, fromWorker := io.Pipe()

	b := &Bridge{interruptByte: make([]byte, 1)}
	c := newConn(fromBridge, toBridge, b.handleStream, b.handleCrash)
	go c.readLoop()
	b.conn = c
	b.initialized = true

	return b, newFakeWorker(toWorker, fromWorker)
}

func queryOutputs(t *testing.T, st store.Store, cellID string) []types.Output {
	t.Helper()
	rows, err := store.QueryTyped[types.Output](context.Background(), st, store.Selector{
		NotebookID: "nb-1",
		Table:      store.TableOutputs,
		Where:      store.WhereOutputs(func(o types.Output) bool { return o.CellID == cellID }),
	})
	if err != nil {
		t.Fatalf("query outputs: %v", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })
	return rows
}

func TestBridgeExecuteCodeStreamsStdoutThenResult(t *testing.T) {
	st := store.NewFSStore(t.TempDir())
	defer st.Close()

	execCtx := execctx.New(context.Background(), st, "nb-1", "q-1", "cell-1", 1)
	b, worker := newBridgeForTest()

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := worker.readControlRequest(t)
		if req.Method != "execute" {
			t.Errorf("expected execute method, got %q", req.Method)
		}
		worker.stream(t, streamMessage{Kind: "stream_output", Type: "stdout", Text: "hi"})
		worker.respond(t, controlResponse{ID: req.ID, OK: true, Result: json.RawMessage(`{"text/plain":"2"}`)})
	}()

	if err := b.ExecuteCode(context.Background(), execCtx, "1+1"); err != nil {
		t.Fatalf("ExecuteCode: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fake worker goroutine never finished")
	}

	outputs := queryOutputs(t, st, "cell-1")
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d: %+v", len(outputs), outputs)
	}
	if outputs[0].OutputType != types.OutputTerminal || outputs[0].Text != "hi" {
		t.Fatalf("unexpected first output: %+v", outputs[0])
	}
	if outputs[1].OutputType != types.OutputMultimediaResult {
		t.Fatalf("unexpected second output: %+v", outputs[1])
	}
}

func TestBridgeExecuteCodeReturnsErrorOnWorkerFailure(t *testing.T) {
	st := store.NewFSStore(t.TempDir())
	defer st.Close()

	execCtx := execctx.New(context.Background(), st, "nb-1", "q-2", "cell-2", 1)
	b, worker := newBridgeForTest()

	go func() {
		req := worker.readControlRequest(t)
		worker.respond(t, controlResponse{ID: req.ID, Error: "Traceback (most recent call last):\n  File \"<cell>\", line 1\nZeroDivisionError: division by zero"})
	}()

	err := b.ExecuteCode(context.Background(), execCtx, "1/0")
	if err == nil {
		t.Fatal("expected an error")
	}

	outputs := queryOutputs(t, st, "cell-2")
	if len(outputs) != 1 || outputs[0].OutputType != types.OutputError {
		t.Fatalf("expected a single error output, got %+v", outputs)
	}
	if outputs[0].EName != "ZeroDivisionError" || outputs[0].EValue != "division by zero" {
		t.Fatalf("unexpected error output: %+v", outputs[0])
	}
}

func TestBridgeExecuteCodeCancelledBeforeStartWritesOnlyStderr(t *testing.T) {
	st := store.NewFSStore(t.TempDir())
	defer st.Close()

	parent, cancel := context.WithCancel(context.Background())
	execCtx := execctx.New(parent, st, "nb-1", "q-3", "cell-3", 1)
	execCtx.TriggerAbort()
	cancel()

	b, _ := newBridgeForTest()

	err := b.ExecuteCode(context.Background(), execCtx, "1+1")
	if err != execctx.ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	outputs := queryOutputs(t, st, "cell-3")
	if len(outputs) != 1 || outputs[0].StreamName != "stderr" {
		t.Fatalf("expected a single stderr output, got %+v", outputs)
	}
}
