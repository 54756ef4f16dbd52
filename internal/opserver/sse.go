// SSE Implementation Note: this is a small, hand-rolled Server-Sent Events
// writer rather than a third-party SSE package, for the same reason the
// teacher's own internal/server/sse.go gives for not taking that
// dependency: the surface here is a handful of lines, integrates directly
// with this store's Subscribe-delivers-current-result-set model, and a
// library built around a different delivery shape would add an adapter
// layer without buying anything back.
package opserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/internal/store"
)

// sseHeartbeatInterval is how often a comment line is sent to keep
// intermediaries from closing an idle /events connection.
const sseHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE, matching the teacher's
// ResponseController-first, Flusher-fallback flush strategy.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("opserver: streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// tableUpdate is what /events emits: the table that changed and its full
// current result set, matching what Subscribe delivers to the engine.
type tableUpdate struct {
	Table store.Table `json:"table"`
	Rows  []any       `json:"rows"`
}

// events streams live updates to the sessions, queue, and outputs tables
// for this agent's notebook until the client disconnects. It is a tail of
// the same Subscribe feed the coordination engine runs on, not a replay of
// every committed event — this store has no separate event bus to tail.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	ctx := r.Context()
	updates := make(chan tableUpdate, 16)

	tables := []store.Table{store.TableSessions, store.TableQueue, store.TableOutputs}
	var unsubs []func()
	for _, table := range tables {
		table := table
		unsub, err := s.st.Subscribe(ctx, store.Selector{NotebookID: s.notebookID, Table: table}, func(rows []any) {
			select {
			case updates <- tableUpdate{Table: table, Rows: rows}:
			default:
				logging.Warn().Str("table", string(table)).Msg("opserver: SSE update dropped: channel full")
			}
		})
		if err != nil {
			logging.Warn().Str("table", string(table)).Err(err).Msg("opserver: failed to subscribe")
			continue
		}
		unsubs = append(unsubs, unsub)
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			if err := sse.writeEvent("message", u); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
