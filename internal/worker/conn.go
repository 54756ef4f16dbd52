package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cellrt/runtime-agent/internal/logging"
)

// conn is the control/stream transport to one worker subprocess, grounded
// on internal/lsp/client.go's jsonrpcConn: Content-Length framed
// stdin/stdout, a pending-response map keyed by request id, and a readLoop
// goroutine that treats any read error as the connection dying.
type conn struct {
	stdin  io.WriteCloser
	stdout *bufio.Reader

	writeMu sync.Mutex
	nextID  int64

	mu      sync.Mutex
	pending map[int64]chan controlResponse
	closed  bool

	onStream func(streamMessage)
	onCrash  func(reason string)
}

func newConn(stdin io.WriteCloser, stdout io.Reader, onStream func(streamMessage), onCrash func(string)) *conn {
	return &conn{
		stdin:    stdin,
		stdout:   bufio.NewReader(stdout),
		pending:  make(map[int64]chan controlResponse),
		onStream: onStream,
		onCrash:  onCrash,
	}
}

// readLoop reads frames until the pipe errors, then treats that as a
// worker crash: every pending control call is rejected and onCrash fires.
func (c *conn) readLoop() {
	for {
		env, err := readFrame(c.stdout)
		if err != nil {
			c.crash(fmt.Sprintf("transport closed: %v", err))
			return
		}

		switch env.Channel {
		case "control":
			var resp controlResponse
			if err := json.Unmarshal(env.Body, &resp); err != nil {
				logging.Debug().Err(err).Msg("worker: malformed control response")
				continue
			}
			c.deliver(resp)
		case "stream":
			var msg streamMessage
			if err := json.Unmarshal(env.Body, &msg); err != nil {
				logging.Debug().Err(err).Msg("worker: malformed stream message")
				continue
			}
			c.onStream(msg)
		default:
			logging.Debug().Str("channel", env.Channel).Msg("worker: unknown envelope channel")
		}
	}
}

func (c *conn) deliver(resp controlResponse) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *conn) crash(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan controlResponse)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- controlResponse{Error: "Worker crashed: " + reason}
	}
	if c.onCrash != nil {
		c.onCrash(reason)
	}
}

// call sends a control request and blocks for its response (or the
// connection crashing).
func (c *conn) call(method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("worker: connection closed")
	}
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan controlResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := writeFrame(c.stdin, &c.writeMu, "control", controlRequest{ID: id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	resp := <-ch
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Result, nil
}

// notify sends a control-channel request without waiting for a response,
// used for the best-effort "interrupt" side-channel nudge.
func (c *conn) notify(method string, params any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("worker: connection closed")
	}
	return writeFrame(c.stdin, &c.writeMu, "control", controlRequest{Method: method, Params: params})
}

func (c *conn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stdin.Close()
}
