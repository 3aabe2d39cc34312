package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/medinterp/internal/session"
)

// fakeSession returns a fixed snapshot.
type fakeSession struct {
	snap session.Snapshot
	err  error
}

func (f fakeSession) Snapshot(context.Context) (session.Snapshot, error) { return f.snap, f.err }

func serveReadyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(fakeSession{snap: session.Snapshot{Status: session.StatusDisconnected}})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_SessionConnected(t *testing.T) {
	h := New(fakeSession{snap: session.Snapshot{
		Status:    session.StatusConnected,
		State:     session.StateAwaitingResponse,
		SessionID: "sess-1",
	}})

	code, body := serveReadyz(t, h)
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Checks["session"] != "ok" {
		t.Errorf("session check = %q, want ok", body.Checks["session"])
	}
	if body.Session == nil {
		t.Fatal("session info missing")
	}
	want := sessionInfo{Status: "connected", State: "awaiting_response", SessionID: "sess-1"}
	if *body.Session != want {
		t.Errorf("session info = %+v, want %+v", *body.Session, want)
	}
}

func TestReadyz_SessionNotConnected(t *testing.T) {
	tests := []struct {
		name   string
		status session.Status
		want   string
	}{
		{"disconnected", session.StatusDisconnected, "fail: session is disconnected"},
		{"waiting for service", session.StatusConnecting, "fail: session is connecting"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := New(fakeSession{snap: session.Snapshot{Status: tc.status}})
			code, body := serveReadyz(t, h)
			if code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
			}
			if body.Status != "fail" {
				t.Errorf("status = %q, want fail", body.Status)
			}
			if body.Checks["session"] != tc.want {
				t.Errorf("session check = %q, want %q", body.Checks["session"], tc.want)
			}
		})
	}
}

func TestReadyz_SnapshotError(t *testing.T) {
	h := New(fakeSession{err: session.ErrStopped})
	code, body := serveReadyz(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Session != nil {
		t.Errorf("session info = %+v, want omitted", body.Session)
	}
	if body.Checks["session"] != "fail: "+session.ErrStopped.Error() {
		t.Errorf("session check = %q", body.Checks["session"])
	}
}

func TestReadyz_ExtraCheckers(t *testing.T) {
	h := New(
		fakeSession{snap: session.Snapshot{Status: session.StatusConnected}},
		Checker{Name: "microphone", Check: func(_ context.Context) error {
			return errors.New("device busy")
		}},
		Checker{Name: "speaker", Check: func(_ context.Context) error { return nil }},
	)

	code, body := serveReadyz(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Checks["session"] != "ok" {
		t.Errorf("session check = %q", body.Checks["session"])
	}
	if body.Checks["microphone"] != "fail: device busy" {
		t.Errorf("microphone check = %q", body.Checks["microphone"])
	}
	if body.Checks["speaker"] != "ok" {
		t.Errorf("speaker check = %q", body.Checks["speaker"])
	}
}

func TestReadyz_NoSession(t *testing.T) {
	code, body := serveReadyz(t, New(nil))
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(fakeSession{snap: session.Snapshot{Status: session.StatusConnected}})

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(nil,
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
