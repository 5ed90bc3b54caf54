package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	sseHeartbeat = 15 * time.Second
	// sseMaxEventsPerSec caps per-client write pressure; the stream is
	// best-effort and a browser tab replaying a burst doesn't need more.
	sseMaxEventsPerSec = 50
)

// handleEventStream serves the live progress feed as Server-Sent Events:
// a replay of recent history first, then the live subscription.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	limit := queryInt(r, "replay", s.cfg.ReplayLimit)
	for _, ev := range s.evlog.Replay(limit) {
		writeSSE(w, ev)
	}
	fl.Flush()

	ch, unsub := s.evlog.Subscribe(64)
	defer unsub()

	limiter := rate.NewLimiter(rate.Limit(sseMaxEventsPerSec), sseMaxEventsPerSec)
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			fl.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			if !limiter.Allow() {
				continue // best-effort: drop rather than stall
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			fl.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
