package console

import (
	"encoding/json"
	"net/http"
	"time"

	"mssecurity.org/internal/auth"
)

type sessionEvent struct {
	State string `json:"state"`
	Name  string `json:"name,omitempty"`
}

func eventOf(s auth.Session) sessionEvent {
	ev := sessionEvent{State: s.State.String()}
	if s.Authenticated() && s.Identity != nil {
		ev.Name = s.Identity.DisplayName
	}
	return ev
}

// activity receives interaction reports from page scripts.
func (s *Server) activity(w http.ResponseWriter, r *http.Request) {
	kind, ok := auth.ParseInteraction(r.URL.Query().Get("kind"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown interaction kind"})
		return
	}
	m := manager(r)
	snap := m.Snapshot()
	if !snap.Authenticated() {
		writeJSON(w, http.StatusUnauthorized, eventOf(snap))
		return
	}
	m.Touch(kind)
	w.WriteHeader(http.StatusNoContent)
}

// events streams session state changes so open pages leave as soon as
// the session ends, whatever ended it.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	m := manager(r)
	ch := m.Reader().Subscribe(r.Context())

	_, _ = w.Write([]byte(": stream started\n\n"))
	if !send(w, rc, eventOf(m.Snapshot())) {
		return
	}
	if !m.Snapshot().Authenticated() {
		return
	}

	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if !send(w, rc, eventOf(snap)) || !snap.Authenticated() {
				return
			}
		}
	}
}

func send(w http.ResponseWriter, rc *http.ResponseController, ev sessionEvent) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	_, _ = w.Write([]byte("event: session\ndata: "))
	_, _ = w.Write(payload)
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	return rc.Flush() == nil
}
