package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/medinterp/internal/session"
	"github.com/MrWong99/medinterp/pkg/audio"
)

// fakeController records every command.
type fakeController struct {
	mu    sync.Mutex
	calls []string
	err   error
	snap  session.Snapshot
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) StartTurn(_ context.Context, role session.Role) error {
	return f.record("start:" + string(role))
}

func (f *fakeController) StopTurn(context.Context) error { return f.record("stop") }

func (f *fakeController) RequestSummary(context.Context) error { return f.record("summary") }

func (f *fakeController) Snapshot(context.Context) (session.Snapshot, error) {
	return f.snap, f.record("snapshot")
}

func TestRun_DispatchesCommands(t *testing.T) {
	t.Parallel()
	in := strings.NewReader("patient\n  STOP \n\ndoctor\ns\nsummary\nstatus\nquit\npatient\n")
	var out bytes.Buffer
	ctrl := &fakeController{snap: session.Snapshot{
		Status:      session.StatusConnected,
		State:       session.StateIdle,
		SessionID:   "sess-7",
		Transcripts: map[session.Role][]string{session.RoleDoctor: {"Hello"}},
	}}

	if err := New(in, &out).Run(context.Background(), ctrl); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"start:patient", "stop", "start:doctor", "stop", "summary", "snapshot"}
	if !slices.Equal(ctrl.calls, want) {
		t.Errorf("calls = %v, want %v", ctrl.calls, want)
	}
	for _, s := range []string{"recording patient", "summary requested", "connection: connected", "session:    sess-7", "doctor:     1 utterance(s)"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("output missing %q:\n%s", s, out.String())
		}
	}
}

func TestRun_EndOfInput(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	if err := New(strings.NewReader("doctor\n"), &bytes.Buffer{}).Run(context.Background(), ctrl); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(ctrl.calls, []string{"start:doctor"}) {
		t.Errorf("calls = %v", ctrl.calls)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	t.Parallel()
	pr, pw := ioPipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(pr, &bytes.Buffer{}).Run(ctx, &fakeController{}) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ReportsNonSessionErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     error
		printed bool
	}{
		{"session error is rendered by its event", &session.Error{Kind: session.KindNotConnected, Err: session.ErrNotConnected}, false},
		{"other error is printed", session.ErrStopped, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			ctrl := &fakeController{err: tc.err}
			if err := New(strings.NewReader("patient\n"), &out).Run(context.Background(), ctrl); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := strings.Contains(out.String(), "[error] "); got != tc.printed {
				t.Errorf("printed error = %v, want %v:\n%s", got, tc.printed, out.String())
			}
			if strings.Contains(out.String(), "recording patient") {
				t.Error("success message printed for failed command")
			}
		})
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	if err := New(strings.NewReader("nurse\n"), &out).Run(context.Background(), &fakeController{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), `unknown command "nurse"`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestHandleEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ev   session.Event
		want string
	}{
		{"connection", session.Event{Kind: session.EventConnectionState, Status: session.StatusConnecting}, "[connection] connecting\n"},
		{"turn", session.Event{Kind: session.EventTurnCompleted, Role: session.RoleDoctor, Text: "Hola"}, "[doctor] Hola\n"},
		{"audio", session.Event{Kind: session.EventAudioReady, Audio: audio.NewAudioBuffer(make([]int16, 12000))}, "[audio] playing 500ms\n"},
		{"summary", session.Event{Kind: session.EventSummaryReady, Text: "Fever for 3 days."}, "[summary]\nFever for 3 days.\n"},
		{"notice", session.Event{Kind: session.EventNotice, Text: "schedule_followup"}, "[notice] schedule_followup\n"},
		{
			"error",
			session.Event{Kind: session.EventError, Err: &session.Error{Kind: session.KindRemote, Message: "rate limited"}},
			"[error:remote] rate limited\n",
		},
		{"progress", session.Event{Kind: session.EventTranslationProgress, Text: "Hel"}, clearLine + "… Hel"},
		{"clear without live line", session.Event{Kind: session.EventTranslationProgress}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			New(nil, &out).HandleEvent(tc.ev)
			if out.String() != tc.want {
				t.Errorf("output = %q, want %q", out.String(), tc.want)
			}
		})
	}
}

func TestHandleEvent_ProgressLineIsReplaced(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	c := New(nil, &out)
	c.HandleEvent(session.Event{Kind: session.EventTranslationProgress, Text: "Hel"})
	c.HandleEvent(session.Event{Kind: session.EventTranslationProgress, Text: "Hello"})
	c.HandleEvent(session.Event{Kind: session.EventTranslationProgress, Text: ""})
	c.HandleEvent(session.Event{Kind: session.EventTurnCompleted, Role: session.RolePatient, Text: "Hello"})

	want := clearLine + "… Hel" + clearLine + "… Hello" + clearLine + "[patient] Hello\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestHandleEvent_LineClearsLiveProgress(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	c := New(nil, &out)
	c.HandleEvent(session.Event{Kind: session.EventTranslationProgress, Text: "Hal"})
	c.HandleEvent(session.Event{Kind: session.EventError, Err: &session.Error{Kind: session.KindNotConnected, Err: errors.New("lost")}})

	want := clearLine + "… Hal" + clearLine + "[error:not_connected] lost\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

// ioPipe returns a reader that blocks until the writer is closed.
func ioPipe() (*io.PipeReader, *io.PipeWriter) { return io.Pipe() }
