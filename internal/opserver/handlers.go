package opserver

import (
	"net/http"

	"github.com/cellrt/runtime-agent/internal/store"
	"github.com/cellrt/runtime-agent/pkg/types"
)

type healthResponse struct {
	Status     string `json:"status"`
	NotebookID string `json:"notebookId"`
	SessionID  string `json:"sessionId"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		NotebookID: s.notebookID,
		SessionID:  s.sessionID,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := store.QueryTyped[types.RuntimeSession](r.Context(), s.st, store.Selector{
		NotebookID: s.notebookID,
		Table:      store.TableSessions,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}
