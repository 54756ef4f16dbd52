package worker

import (
	"fmt"
	"os/exec"

	"github.com/cellrt/runtime-agent/internal/logging"
)

// ensureStarted spawns the worker subprocess and completes its init
// handshake if it isn't already running. A prior crash clears
// b.initialized, so the next call here triggers a fresh spawn — spec root
// §4.3's "the next executeCode call triggers a fresh initialization".
func (b *Bridge) ensureStarted() error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.initialized {
		return nil
	}

	argv, err := launchArgv(b.launchCommand)
	if err != nil {
		return err
	}
	if len(argv) == 0 {
		return fmt.Errorf("no worker command configured")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = b.workDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	c := newConn(stdin, stdout, b.handleStream, b.handleCrash)
	go c.readLoop()

	if _, err := c.call("init", initParams{Packages: b.packages}); err != nil {
		cmd.Process.Kill()
		return fmt.Errorf("worker init: %w", err)
	}

	b.cmd = cmd
	b.conn = c
	b.initialized = true
	return nil
}

// handleCrash implements spec root §4.3's crash handling: the connection
// has already rejected every pending control call by the time this runs;
// here the bridge marks itself uninitialized, drains the FIFO queue by
// rejecting each entry, and kills the process if it's still alive.
func (b *Bridge) handleCrash(reason string) {
	logging.Debug().Str("reason", reason).Msg("worker: crash detected")

	b.startMu.Lock()
	b.initialized = false
	cmd := b.cmd
	b.cmd = nil
	b.conn = nil
	b.startMu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}

	b.queueMu.Lock()
	queued := b.queue
	b.queue = nil
	b.queueMu.Unlock()

	for _, e := range queued {
		e.done <- fmt.Errorf("worker crashed: %s", reason)
	}

	b.clearStreaming()
}
