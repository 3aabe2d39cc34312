// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when the interpretation
//     session is connected and every extra [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail"),
// a "checks" map with the result of each named checker and, when a session is
// attached, a "session" object describing it.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/medinterp/internal/session"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. Check returns nil when healthy.
type Checker struct {
	// Name appears as a key in the "checks" map.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Snapshotter reports session state. [*session.Machine] satisfies it.
type Snapshotter interface {
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

// result is the JSON response body for health endpoints.
type result struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Session *sessionInfo      `json:"session,omitempty"`
}

type sessionInfo struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use.
type Handler struct {
	session  Snapshotter
	checkers []Checker
}

// New creates a [Handler]. When s is non-nil, /readyz fails until the session
// is connected. The extra checkers run after the session check, in order.
func New(s Snapshotter, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{session: s, checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe. Each check gets a [checkTimeout] deadline
// derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers)+1)}
	allOK := true

	record := func(name string, err error) {
		if err != nil {
			res.Checks[name] = "fail: " + err.Error()
			allOK = false
			return
		}
		res.Checks[name] = "ok"
	}

	if h.session != nil {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		snap, err := h.session.Snapshot(ctx)
		cancel()
		if err == nil {
			res.Session = &sessionInfo{
				Status:    string(snap.Status),
				State:     snap.State.String(),
				SessionID: snap.SessionID,
			}
			if snap.Status != session.StatusConnected {
				err = fmt.Errorf("session is %s", snap.Status)
			}
		}
		record("session", err)
	}

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		record(c.Name, err)
	}

	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
