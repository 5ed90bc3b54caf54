package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailbot/internal/dispatch"
	"mailbot/internal/identity"
	"mailbot/internal/recipients"
	"mailbot/pkg/logx"
)

type recipientDTO struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	RealName string `json:"real_name,omitempty"`
}

type identityDTO struct {
	ID      string `json:"id"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	Enabled bool   `json:"enabled"`
	// Password is accepted on upsert and never echoed back.
	Password string `json:"password,omitempty"`
}

type sendRequest struct {
	Subject         string `json:"subject"`
	Body            string `json:"body"`
	IntervalSeconds int    `json:"interval_seconds"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- recipients ----

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	rs, err := parseRecipientCSV(r.Body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "csv parse failed: "+err.Error())
		return
	}
	n := s.store.Import(rs)
	s.log.Info("recipients imported", logx.Int("imported", n))
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	s.handleList(w, r, s.store.ListPending)
}

func (s *Server) handleListCompleted(w http.ResponseWriter, r *http.Request) {
	s.handleList(w, r, s.store.ListCompleted)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, list func(int, int) ([]recipients.Recipient, int)) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)
	rs, total := list(offset, limit)

	out := make([]recipientDTO, len(rs))
	for i, rec := range rs {
		out[i] = recipientDTO{Email: rec.Email, Name: rec.Name, RealName: rec.RealName}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":      total,
		"offset":     offset,
		"recipients": out,
	})
}

func (s *Server) handleDeleteRecipient(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusUnprocessableEntity, "email is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.store.Remove(req.Email)})
}

func (s *Server) handleClearRecipients(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.store.Clear()})
}

// ---- run control ----

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IntervalSeconds <= 0 {
		req.IntervalSeconds = 5
	}
	job := dispatch.Job{
		Subject:  req.Subject,
		Body:     req.Body,
		Interval: time.Duration(req.IntervalSeconds) * time.Second,
	}
	if err := s.controller.Submit(job); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, dispatch.ErrNoIdentities) || errors.Is(err, dispatch.ErrNothingPending) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.controller.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.controller.State())})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.controller.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.controller.State())})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	pending, completed := s.store.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      s.controller.State(),
		"pending":    pending,
		"completed":  completed,
		"jobs":       s.controller.QueuedJobs(),
		"usage":      s.tracker.Usage(time.Now()),
		"limit":      s.tracker.Limit(),
		"identities": s.pool.EnabledCount(),
	})
}

// ---- identities ----

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ids := s.pool.List()
		out := make([]identityDTO, len(ids))
		for i, id := range ids {
			out[i] = identityDTO{ID: id.ID, Host: id.Host, Port: id.Port, Enabled: id.Enabled}
		}
		writeJSON(w, http.StatusOK, map[string]any{"identities": out})
	case http.MethodPost:
		var req identityDTO
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ID) == "" || !strings.Contains(req.ID, "@") {
			writeError(w, http.StatusUnprocessableEntity, "id must be a sender address")
			return
		}
		s.pool.Upsert(identity.Identity{
			ID:         req.ID,
			Credential: req.Password,
			Host:       req.Host,
			Port:       req.Port,
			Enabled:    req.Enabled,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleIdentityEnable(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.pool.SetEnabled(req.ID, req.Enabled) {
		writeError(w, http.StatusNotFound, "unknown identity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIdentityDelete(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.pool.Remove(req.ID) {
		writeError(w, http.StatusNotFound, "unknown identity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- helpers ----

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": msg,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
