// Package server exposes the HTTP API handlers.
package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
)

// BotInfo is one bot identity's connection state for the status endpoint.
type BotInfo struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// BotStatusFunc reports the current per-bot connection states.
type BotStatusFunc func() []BotInfo

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db   *sql.DB
	bots BotStatusFunc
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, bots BotStatusFunc) *Handlers {
	return &Handlers{db: db, bots: bots}
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests: the database must be
// reachable and at least one bot connected.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		writeNotReady(w, "database", err.Error())
		return
	}
	if h.bots != nil {
		anyUp := false
		for _, b := range h.bots() {
			if b.Connected {
				anyUp = true
				break
			}
		}
		if !anyUp {
			writeNotReady(w, "bots", "no bot connection established")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func writeNotReady(w http.ResponseWriter, check, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":       "not_ready",
		"failed_check": check,
		"error":        detail,
	})
}

// HandleStatus reports store row counts plus per-bot connection state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := struct {
		Sessions int64     `json:"sessions"`
		Logs     int64     `json:"logs"`
		Items    int64     `json:"items"`
		Bots     []BotInfo `json:"bots"`
	}{}
	for _, q := range []struct {
		sql  string
		dest *int64
	}{
		{"SELECT COUNT(*) FROM sessions", &out.Sessions},
		{"SELECT COUNT(*) FROM logs", &out.Logs},
		{"SELECT COUNT(*) FROM items", &out.Items},
	} {
		if err := h.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			http.Error(w, "status query failed", http.StatusInternalServerError)
			return
		}
	}
	if h.bots != nil {
		out.Bots = h.bots()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
