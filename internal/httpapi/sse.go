package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openscribe/openscribe/internal/auth"
	"github.com/openscribe/openscribe/internal/jobs"
)

const streamInterval = time.Second

// handleJobStream pushes the caller's job list over server-sent events so the
// UI can render progress without polling. One snapshot per tick; the client
// diffs on its side.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	sid := r.Header.Get(sessionHeader)
	if sid == "" && !auth.IsAdmin(user) {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	snapshot := func() []*jobs.Job {
		if sid == "" {
			return s.store.Recent(jobs.MaxListLimit)
		}
		return s.store.RecentForSession(sid, jobs.MaxListLimit)
	}

	send := func(list []*jobs.Job) bool {
		payload, err := json.Marshal(map[string]any{
			"total": len(list),
			"jobs":  list,
		})
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(snapshot()) {
		return
	}

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send(snapshot()) {
				return
			}
		}
	}
}
