package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/cellrt/runtime-agent/internal/config"
	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// newTestConfig isolates each test's FSStore under its own XDG_DATA_HOME so
// config.GetPaths().StorePath(notebookID) never collides across tests.
func newTestConfig(t *testing.T, notebookID string) *config.Config {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	return &config.Config{
		NotebookID:        notebookID,
		RuntimeID:         "runtime-1",
		RuntimeType:       "python",
		HeartbeatInterval: 20 * time.Millisecond,
		MaxIterations:     10,
		WorkerCommand:     []string{"true"},
	}
}

func session(t *testing.T, st store.Store, notebookID, sessionID string) types.RuntimeSession {
	t.Helper()
	rows, err := store.QueryTyped[types.RuntimeSession](context.Background(), st, store.Selector{
		NotebookID: notebookID,
		Table:      store.TableSessions,
		Where:      store.WhereSessions(func(s types.RuntimeSession) bool { return s.SessionID == sessionID }),
	})
	if err != nil || len(rows) == 0 {
		t.Fatalf("session %s not found: %v", sessionID, err)
	}
	return rows[0]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestStartCreatesReadySession(t *testing.T) {
	cfg := newTestConfig(t, "nb-start")
	a, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Shutdown(context.Background())

	s := session(t, a.Store(), "nb-start", a.SessionID())
	if !s.IsActive {
		t.Fatalf("expected new session to be active")
	}
	if s.Status != types.SessionReady {
		t.Fatalf("expected session status ready, got %s", s.Status)
	}
}

func TestStartRequiresNotebookID(t *testing.T) {
	cfg := newTestConfig(t, "")
	if _, err := Start(context.Background(), cfg); err == nil {
		t.Fatal("expected an error when NotebookID is empty")
	}
}

func TestStartDisplacesExistingActiveSession(t *testing.T) {
	cfg := newTestConfig(t, "nb-displace")

	first, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start (first): %v", err)
	}
	defer first.Shutdown(context.Background())
	firstSessionID := first.SessionID()

	second, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start (second): %v", err)
	}
	defer second.Shutdown(context.Background())

	displaced := session(t, second.Store(), "nb-displace", firstSessionID)
	if displaced.IsActive {
		t.Fatalf("expected first session to be displaced")
	}
	if displaced.Status != types.SessionTerminated {
		t.Fatalf("expected first session terminated, got %s", displaced.Status)
	}

	active := session(t, second.Store(), "nb-displace", second.SessionID())
	if !active.IsActive {
		t.Fatalf("expected second session to be active")
	}
}

func TestShutdownIsIdempotentAndTerminatesSession(t *testing.T) {
	cfg := newTestConfig(t, "nb-shutdown")
	a, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	a.Shutdown(context.Background())
	a.Shutdown(context.Background())

	s := session(t, a.Store(), "nb-shutdown", a.SessionID())
	if s.IsActive {
		t.Fatalf("expected session to be inactive after shutdown")
	}
	if s.Status != types.SessionTerminated {
		t.Fatalf("expected session status terminated, got %s", s.Status)
	}
}

func TestDoneClosesAfterShutdown(t *testing.T) {
	cfg := newTestConfig(t, "nb-done")
	a, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-a.Done():
		t.Fatal("Done closed before Shutdown was called")
	default:
	}

	a.Shutdown(context.Background())

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("Done did not close after Shutdown")
	}
}

func TestHeartbeatRefreshesLastHeartbeat(t *testing.T) {
	cfg := newTestConfig(t, "nb-heartbeat")
	a, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Shutdown(context.Background())

	initial := session(t, a.Store(), "nb-heartbeat", a.SessionID()).LastHeartbeat

	waitFor(t, time.Second, func() bool {
		return session(t, a.Store(), "nb-heartbeat", a.SessionID()).LastHeartbeat > initial
	})
}
