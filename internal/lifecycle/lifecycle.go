// Package lifecycle implements the agent's start/shutdown sequence and
// heartbeat loop (spec root §4.5), grounded on
// cmd/opencode/commands/serve.go + root.go's signal wiring: load config,
// stand up the store and coordination engine, install OS signal handlers,
// and tear everything down idempotently on shutdown.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cellrt/runtime-agent/internal/ai"
	"github.com/cellrt/runtime-agent/internal/config"
	"github.com/cellrt/runtime-agent/internal/engine"
	"github.com/cellrt/runtime-agent/internal/execctx"
	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/internal/permission"
	"github.com/cellrt/runtime-agent/internal/provider"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/internal/tool"
	"github.com/cellrt/runtime-agent/internal/worker"
	"github.com/cellrt/runtime-agent/pkg/idgen"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// Agent is one running instance of the runtime agent: a store handle, a
// RuntimeSession, a coordination engine, and the heartbeat loop keeping
// that session's lastHeartbeat fresh.
type Agent struct {
	cfg        *config.Config
	st         store.Store
	notebookID string
	sessionID  string

	engine   *engine.Engine
	bridge   *worker.Bridge
	aiDriver *ai.Driver

	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}

	shutdownOnce sync.Once
	done         chan struct{}
}

// Start implements spec root §4.5's Start sequence: displace any existing
// active session, commit runtimeSessionStarted, install the coordination
// engine's subscriptions, commit runtimeSessionStatusChanged(ready), begin
// heartbeating, and install signal handlers that call Shutdown.
func Start(ctx context.Context, cfg *config.Config) (*Agent, error) {
	if cfg.NotebookID == "" {
		return nil, fmt.Errorf("lifecycle: notebook id is required")
	}

	st := store.NewFSStore(config.GetPaths().StorePath(cfg.NotebookID))

	a := &Agent{
		cfg:        cfg,
		st:         st,
		notebookID: cfg.NotebookID,
		sessionID:  idgen.New(),
		done:       make(chan struct{}),
	}

	if err := a.displacePeers(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("lifecycle: displacing peer sessions: %w", err)
	}

	session := &types.RuntimeSession{
		SessionID:   a.sessionID,
		NotebookID:  a.notebookID,
		RuntimeID:   cfg.RuntimeID,
		RuntimeType: cfg.RuntimeType,
		Capabilities: types.Capabilities{
			CanExecuteCode: true,
			CanExecuteSQL:  true,
			CanExecuteAI:   true,
		},
		Status:        types.SessionStarting,
		IsActive:      true,
		LastHeartbeat: time.Now().UnixMilli(),
	}
	if err := st.Commit(ctx, a.notebookID, types.Event{
		Type: types.EventRuntimeSessionStarted,
		Data: &types.RuntimeSessionStartedData{Session: session},
	}); err != nil {
		st.Close()
		return nil, fmt.Errorf("lifecycle: commit runtimeSessionStarted: %w", err)
	}

	providers, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		logging.Warn().Err(err).Msg("lifecycle: failed to initialize some model providers")
	}

	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}

	tools := tool.DefaultRegistry()
	a.bridge = worker.New(cfg.WorkerCommand, workDir, cfg.PreloadPackages())
	a.aiDriver = ai.New(st, a.notebookID, a.sessionID, providers, tools, cfg.MaxIterations).
		WithPermissions(permission.FromEnabledTools(cfg.EnabledTools))

	handlers := map[types.CellType]engine.Handler{
		types.CellCode: a.bridge.Handler(),
		types.CellSQL:  a.bridge.Handler(),
		types.CellAI:   a.aiDriver.Handler(),
	}

	a.engine = engine.New(st, a.notebookID, a.sessionID, handlers, func(err error, execCtx *execctx.Context) {
		logging.Error().Err(err).Msg("lifecycle: execution handler failed")
	})
	if err := a.engine.Start(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("lifecycle: starting coordination engine: %w", err)
	}

	if err := st.Commit(ctx, a.notebookID, types.Event{
		Type: types.EventRuntimeSessionStatusChanged,
		Data: &types.RuntimeSessionStatusChangedData{SessionID: a.sessionID, Status: types.SessionReady},
	}); err != nil {
		logging.Warn().Err(err).Msg("lifecycle: commit runtimeSessionStatusChanged(ready) failed")
	}

	a.startHeartbeat(ctx, cfg.HeartbeatInterval)
	a.installSignalHandlers()

	logging.Info().
		Str("notebookId", a.notebookID).
		Str("sessionId", a.sessionID).
		Msg("runtime agent started")

	return a, nil
}

// displacePeers implements §4.5's "query active sessions; for each, commit
// runtimeSessionTerminated(reason=displaced)" step (scenario S6).
func (a *Agent) displacePeers(ctx context.Context) error {
	active, err := store.QueryTyped[types.RuntimeSession](ctx, a.st, store.Selector{
		NotebookID: a.notebookID,
		Table:      store.TableSessions,
		Where:      store.WhereSessions(func(s types.RuntimeSession) bool { return s.IsActive }),
	})
	if err != nil {
		return err
	}
	for _, s := range active {
		if err := a.st.Commit(ctx, a.notebookID, types.Event{
			Type: types.EventRuntimeSessionTerminated,
			Data: &types.RuntimeSessionTerminatedData{SessionID: s.SessionID, Reason: types.TerminationDisplaced},
		}); err != nil {
			return err
		}
	}
	return nil
}

// SessionID returns this agent instance's runtime session id.
func (a *Agent) SessionID() string { return a.sessionID }

// Store returns the agent's store handle, for the operator HTTP surface.
func (a *Agent) Store() store.Store { return a.st }

// NotebookID returns the notebook this agent is attached to.
func (a *Agent) NotebookID() string { return a.notebookID }

// Done returns a channel closed once Shutdown has completed, so a command
// entrypoint can block on it after installing its own os.Exit policy
// around a signal-triggered shutdown.
func (a *Agent) Done() <-chan struct{} { return a.done }

// installSignalHandlers wires SIGINT/SIGTERM to Shutdown, matching
// serve.go's os/signal.Notify + blocking receive.
func (a *Agent) installSignalHandlers() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s, ok := <-sig
		if !ok {
			return
		}
		logging.Info().Str("signal", s.String()).Msg("lifecycle: received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a.Shutdown(shutdownCtx)
	}()
}

// startHeartbeat begins a ticker that periodically commits the session's
// lastHeartbeat. interval defaults to the config default if zero.
// cenkalti/backoff/v4 retries a failed heartbeat commit with jittered
// exponential backoff before giving up on that tick — the long-lived,
// transient-hiccup shape session.runLoop's newRetryBackoff was built for.
func (a *Agent) startHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	hbCtx, cancel := context.WithCancel(ctx)
	a.heartbeatCancel = cancel
	a.heartbeatDone = make(chan struct{})

	go func() {
		defer close(a.heartbeatDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				a.beat(hbCtx)
			}
		}
	}()
}

// beat commits the session's heartbeat, retrying a failed commit with
// jittered exponential backoff (the same NextBackOff-driven retry shape as
// session.runLoop's API-error handling) before giving up on this tick.
func (a *Agent) beat(ctx context.Context) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	for {
		err := a.st.Commit(ctx, a.notebookID, types.Event{
			Type: types.EventRuntimeSessionStatusChanged,
			Data: &types.RuntimeSessionStatusChangedData{SessionID: a.sessionID, Status: types.SessionReady},
		})
		if err == nil {
			return
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			logging.Debug().Err(err).Msg("lifecycle: heartbeat commit failed after retries")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

// Shutdown implements spec root §4.5's Shutdown: idempotent, drops
// subscriptions, commits runtimeSessionTerminated(reason=shutdown), and
// releases the store. Safe to call more than once or concurrently with a
// signal-triggered shutdown.
func (a *Agent) Shutdown(ctx context.Context) {
	a.shutdownOnce.Do(func() {
		logging.Info().Str("sessionId", a.sessionID).Msg("lifecycle: shutting down")

		if a.heartbeatCancel != nil {
			a.heartbeatCancel()
			<-a.heartbeatDone
		}

		a.engine.Stop()

		if err := a.bridge.Close(); err != nil {
			logging.Warn().Err(err).Msg("lifecycle: worker bridge close failed")
		}

		if err := a.st.Commit(ctx, a.notebookID, types.Event{
			Type: types.EventRuntimeSessionTerminated,
			Data: &types.RuntimeSessionTerminatedData{SessionID: a.sessionID, Reason: types.TerminationShutdown},
		}); err != nil {
			logging.Warn().Err(err).Msg("lifecycle: commit runtimeSessionTerminated(shutdown) failed")
		}

		if err := a.st.Close(); err != nil {
			logging.Warn().Err(err).Msg("lifecycle: store close failed")
		}

		logging.Info().Msg("lifecycle: shutdown complete")
		close(a.done)
	})
}
